package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/httputil"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metrics"
)

// HTTP fetches keys relative to a base URL. Transient failures (transport
// errors, 429 and 5xx) are retried with exponential backoff; a breaker
// stops hammering a mirror that keeps failing across a batch.
type HTTP struct {
	base       string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	newBackOff func() backoff.BackOff
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithBackOff replaces the retry schedule used for each Get.
func WithBackOff(fn func() backoff.BackOff) HTTPOption {
	return func(h *HTTP) { h.newBackOff = fn }
}

func NewHTTP(base string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:   base,
		client: httputil.NewClient(),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	h.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        base,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a missing object is a healthy answer from the mirror
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})
	return h
}

func (h *HTTP) Get(ctx context.Context, key string) ([]byte, error) {
	url := joinKey(h.base, key)
	body, err := h.breaker.Execute(func() ([]byte, error) {
		return h.retrieve(ctx, url)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RemoteGetsTotal.WithLabelValues("https", "breaker_open").Inc()
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	return body, err
}

func (h *HTTP) retrieve(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			metrics.RemoteGetsTotal.WithLabelValues("https", "transport_error").Inc()
			return fmt.Errorf("get %s: %w", url, err)
		}
		defer resp.Body.Close()

		metrics.RemoteGetsTotal.WithLabelValues("https", strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
			// S3-backed mirrors answer 403 for missing keys
			return backoff.Permanent(fmt.Errorf("get %s: status %d: %w", url, resp.StatusCode, ErrNotFound))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(h.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
