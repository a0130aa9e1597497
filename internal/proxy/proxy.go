// ABOUTME: Proxy ingress: adapts inbound HTTP requests to tunnel messages.
// ABOUTME: Strips browser security headers once, here, and nowhere else.

package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skyhook-io/skyhook/internal/tunnel"
)

// strippedHeaders are browser-injected security headers that must never
// reach the agent. Forwarding them can make an agent-side CORS or cookie
// check reject an otherwise-legitimate proxied request, and they leak
// browser context the agent has no business seeing.
var strippedHeaders = []string{
	"Origin",
	"Referer",
	"Cookie",
	"Access-Control-Request-Method",
	"Access-Control-Request-Headers",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Site",
	"Sec-Fetch-Dest",
}

// TunnelLookup resolves an agent ID to its live tunnel. Implemented by
// *tunnel.Registry.
type TunnelLookup interface {
	Lookup(agentID string) (*tunnel.Tunnel, bool)
}

// Ingress converts inbound HTTP requests into tunnel messages and the
// correlated responses back into HTTP. Transport failures surface as 502,
// an expired wait as 504; agent-side application errors pass through
// unchanged.
type Ingress struct {
	registry TunnelLookup
	timeout  time.Duration
	maxBody  int64
	logger   *slog.Logger
}

// NewIngress creates an ingress backed by registry. timeout bounds the wait
// for each correlated response (0 means the inbound request's own context
// is the only bound); maxBody caps buffered request bodies.
func NewIngress(registry TunnelLookup, timeout time.Duration, maxBody int64, logger *slog.Logger) *Ingress {
	return &Ingress{
		registry: registry,
		timeout:  timeout,
		maxBody:  maxBody,
		logger:   logger,
	}
}

// Handle proxies one inbound request to the agent named by the {agentID}
// route parameter. Mounted under /agents/{agentID}/proxy/*.
func (in *Ingress) Handle(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	tun, ok := in.registry.Lookup(agentID)
	if !ok {
		in.logger.Warn("proxy request for unconnected agent", "agent_id", agentID)
		http.Error(w, "agent not connected", http.StatusBadGateway)
		return
	}

	if in.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, in.maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	msg := &tunnel.Message{
		Type:    tunnel.MessageTypeRequest,
		Method:  r.Method,
		Path:    forwardPath(r),
		Headers: filterHeaders(r),
		Body:    body,
	}

	ctx := r.Context()
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := tun.SendRequest(ctx, msg)
	if err != nil {
		status := http.StatusBadGateway
		reason := "tunnel error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
			reason = "timed out waiting for agent response"
		}
		in.logger.Warn("proxy request failed",
			"agent_id", agentID,
			"method", r.Method,
			"path", msg.Path,
			"status", status,
			"elapsed", time.Since(start),
			"error", err,
		)
		http.Error(w, reason, status)
		return
	}

	if resp.Error != "" {
		in.logger.Warn("agent could not complete request",
			"agent_id", agentID,
			"request_id", resp.ID,
			"error", resp.Error,
		)
		http.Error(w, resp.Error, http.StatusBadGateway)
		return
	}

	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	in.logger.Debug("proxied request",
		"agent_id", agentID,
		"method", r.Method,
		"path", msg.Path,
		"status", resp.Status,
		"elapsed", time.Since(start),
	)
}

// forwardPath is the path the agent should replay, relative to its local
// handler: the chi wildcard remainder plus the original query string.
func forwardPath(r *http.Request) string {
	path := "/" + chi.URLParam(r, "*")
	if q := r.URL.RawQuery; q != "" {
		path += "?" + q
	}
	return path
}

// filterHeaders flattens the inbound header map to single values (last
// write wins) and drops the denylist. The Host header is carried explicitly
// from the request line so the agent's local router can dispatch on it.
func filterHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		out[name] = values[len(values)-1]
	}
	for _, name := range strippedHeaders {
		delete(out, name)
	}
	if r.Host != "" {
		out["Host"] = r.Host
	}
	return out
}
