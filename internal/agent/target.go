// ABOUTME: Target forwards reconstructed requests to the local service.
// ABOUTME: The default http.Handler an agent binary fronts its service with.

package agent

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Target is an http.Handler that forwards every request to the local
// service at a base URL. The tunnel client treats it like any other
// handler, so tests can swap in handlers directly.
type Target struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

// NewTarget validates baseURL (e.g. http://127.0.0.1:3000) and returns a
// forwarder with the given per-request timeout.
func NewTarget(baseURL string, timeout time.Duration, logger *slog.Logger) (*Target, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid local url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid local url %q: scheme must be http or https", baseURL)
	}

	return &Target{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (t *Target) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, t.base+r.URL.RequestURI(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	out.Header = r.Header.Clone()
	out.Host = r.Host

	res, err := t.client.Do(out)
	if err != nil {
		t.logger.Warn("local service request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	for name, values := range res.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	_, _ = io.Copy(w, res.Body)
}
