// Package httpclient builds the pooled HTTP clients shared by all outbound
// integrations. Every external call in the pipeline carries a bounded
// timeout so a stuck backend cannot hold a turn open indefinitely.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Options controls HTTP client construction.
type Options struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	Transport           http.RoundTripper
}

// Option mutates Options.
type Option func(*Options)

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithTransport provides a custom transport overriding defaults.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *Options) { o.Transport = rt }
}

// DefaultOptions returns sensible defaults for integration clients.
func DefaultOptions() Options {
	return Options{
		Timeout:             60 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// New constructs an *http.Client configured for API calls.
func New(opts ...Option) *http.Client {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	transport := options.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        options.MaxIdleConns,
			MaxIdleConnsPerHost: options.MaxIdleConnsPerHost,
			IdleConnTimeout:     options.IdleConnTimeout,
			TLSHandshakeTimeout: options.TLSHandshakeTimeout,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	return &http.Client{
		Timeout:   options.Timeout,
		Transport: transport,
	}
}
