// Package httpclient builds the outbound HTTP clients shared by quote
// collection, AI providers and notification channels.
package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Doer is satisfied by *http.Client and by test doubles.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// New returns a client with the given timeout. A non-empty proxy routes every
// request through it; an empty proxy honors the environment.
func New(proxy string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	proxy = strings.TrimSpace(proxy)
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", proxy)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
