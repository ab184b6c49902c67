// Package fetch retrieves named objects from the archives that serve
// forecast and observation data: HTTPS mirrors, public S3 buckets, FTP
// servers or a local directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound means the archive answered but has no object under the key.
var ErrNotFound = errors.New("object not found")

// Getter returns the bytes stored under key.
type Getter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Dir serves keys as paths relative to a local directory.
type Dir string

func (d Dir) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(string(d), filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return data, err
}

// Open builds a Getter from a location string:
//
//	https://host/prefix   HTTPS with retry and circuit breaking
//	s3://bucket/prefix    anonymous S3 (region from AWS_REGION or us-east-1)
//	ftp://host[:port]/dir anonymous FTP
//	anything else         local directory
func Open(ctx context.Context, location string) (Getter, error) {
	if !strings.Contains(location, "://") {
		return Dir(location), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", location, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTP(strings.TrimSuffix(location, "/")), nil
	case "s3":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3(ctx, region, u.Host, strings.Trim(u.Path, "/"))
	case "ftp":
		host := u.Host
		if u.Port() == "" {
			host += ":21"
		}
		return NewFTP(host, strings.Trim(u.Path, "/")), nil
	case "file":
		return Dir(u.Path), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + strings.TrimPrefix(key, "/")
}
