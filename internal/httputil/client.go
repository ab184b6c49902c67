package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 2 * time.Minute
	UserAgent      = "pm25eval (+https://github.com/DavidRBurt/PM25-Forecasting-Framework)"
)

// NewClient returns an HTTP client with the standard timeout and user agent.
// Forecast archives can be tens of megabytes, so the timeout is generous.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgent{base: http.DefaultTransport},
	}
}

type userAgent struct {
	base http.RoundTripper
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", UserAgent)
	return u.base.RoundTrip(r)
}
