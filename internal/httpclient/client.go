// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the shared outbound http client. Upstream adapters
// reuse one client so connection pools are shared across metrics.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}
