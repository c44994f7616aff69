// Package httpclient builds net/http clients whose origin connections are
// tunneled through a proxy dialer.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

type Config struct {
	IdleTimeout         time.Duration
	MaxIdleConns        int
	TLSHandshakeTimeout time.Duration

	// Timeout bounds each request made by NewClient's client. Zero means no
	// limit.
	Timeout time.Duration
}

// NewTransport returns a transport that opens every connection, for http and
// https origins alike, through d. The environment's HTTP proxy settings are
// ignored.
func NewTransport(d proxy.ContextDialer, cfg Config) *http.Transport {
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}

	return &http.Transport{
		Proxy:               nil,
		DialContext:         d.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     cfg.IdleTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		},
	}
}

func NewClient(d proxy.ContextDialer, cfg Config) *http.Client {
	return &http.Client{
		Transport: NewTransport(d, cfg),
		Timeout:   cfg.Timeout,
	}
}
