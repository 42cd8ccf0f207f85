// Package httpclient builds the HTTP clients used for remote API calls.
package httpclient

import (
	"net/http"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	// matches the default batch size so a full batch reuses its connections
	maxIdleConnsPerHost = 100
)

// New returns an HTTP client with a sensible timeout for remote API calls.
func New() *http.Client {
	return NewWithTimeout(defaultTimeout)
}

// NewWithTimeout returns an HTTP client whose requests fail after timeout.
// Hung remote calls are only bounded by this timeout.
func NewWithTimeout(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	transport.MaxIdleConnsPerHost = maxIdleConnsPerHost

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
