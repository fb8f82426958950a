// Package httpclient builds the outbound HTTP client used for file
// downloads and remote embedding calls. Proxy settings are scoped to
// this client rather than exported into process environment.
package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

const defaultTimeout = 5 * time.Minute

// New returns an HTTP client honoring the proxy configuration.
// Hosts matching an entry in proxy.exclude bypass the proxy; an entry
// matches the host exactly or as a suffix (".internal" matches
// "svc.internal").
func New(cfg config.ProxyConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.Enabled {
		proxyURL, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.URL, err)
		}
		exclude := cfg.Exclude
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if excluded(req.URL.Hostname(), exclude) {
				return nil, nil
			}
			return proxyURL, nil
		}
	} else {
		transport.Proxy = nil
	}

	return &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}, nil
}

func excluded(host string, exclude []string) bool {
	for _, e := range exclude {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.EqualFold(host, e) || strings.HasSuffix(strings.ToLower(host), strings.ToLower(e)) {
			return true
		}
	}
	return false
}
