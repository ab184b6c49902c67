package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metrics"
)

// FTP reads files from an anonymous FTP server, one connection per Get.
type FTP struct {
	addr    string
	root    string
	timeout time.Duration
}

func NewFTP(addr, root string) *FTP {
	return &FTP{addr: addr, root: root, timeout: 30 * time.Second}
}

func (f *FTP) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := ftp.Dial(f.addr, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		metrics.RemoteGetsTotal.WithLabelValues("ftp", "dial_error").Inc()
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	path := "/" + joinKey(f.root, key)
	resp, err := conn.Retr(path)
	if err != nil {
		var te *textproto.Error
		if errors.As(err, &te) && te.Code == ftp.StatusFileUnavailable {
			metrics.RemoteGetsTotal.WithLabelValues("ftp", "not_found").Inc()
			return nil, fmt.Errorf("ftp %s: %w", path, ErrNotFound)
		}
		metrics.RemoteGetsTotal.WithLabelValues("ftp", "error").Inc()
		return nil, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	metrics.RemoteGetsTotal.WithLabelValues("ftp", "ok").Inc()
	return body, nil
}
