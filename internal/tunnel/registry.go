// ABOUTME: Registry maps agent IDs to their live tunnels.
// ABOUTME: Entries appear on handshake and vanish when a tunnel closes.

package tunnel

import (
	"log/slog"
	"sync"
)

// Registry is the single lookup point connecting the proxy ingress to
// connected agents. Constructed once at process start and passed by
// reference; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	tunnels map[string]*Tunnel
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tunnels: make(map[string]*Tunnel),
		logger:  logger,
	}
}

// Register adds a tunnel under its agent ID. A reconnecting agent replaces
// its previous tunnel; the old one is closed outside the lock so its
// pending callers fail fast instead of waiting out their deadlines.
func (r *Registry) Register(t *Tunnel) {
	r.mu.Lock()
	old := r.tunnels[t.ID]
	r.tunnels[t.ID] = t
	total := len(r.tunnels)
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("agent reconnected, closing previous tunnel", "agent_id", t.ID)
		old.Close()
	}

	r.logger.Info("agent connected",
		"agent_id", t.ID,
		"total_agents", total,
	)
}

// Unregister removes t from the registry. The tunnel is only removed if it
// is still the current entry for its ID, so a replacement registered by a
// reconnect survives the old tunnel's teardown.
func (r *Registry) Unregister(t *Tunnel) {
	r.mu.Lock()
	current, ok := r.tunnels[t.ID]
	if ok && current == t {
		delete(r.tunnels, t.ID)
	}
	total := len(r.tunnels)
	r.mu.Unlock()

	if ok && current == t {
		r.logger.Info("agent disconnected",
			"agent_id", t.ID,
			"total_agents", total,
		)
	}
}

// Lookup returns the live tunnel for an agent ID.
func (r *Registry) Lookup(agentID string) (*Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tunnels[agentID]
	return t, ok
}

// List returns all connected tunnels in no particular order.
func (r *Registry) List() []*Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, t)
	}
	return out
}

// Len reports the number of connected agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}
