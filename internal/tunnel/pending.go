// ABOUTME: Pending is the correlation table for in-flight tunneled requests.
// ABOUTME: Maps request IDs to single-slot delivery channels, exactly-once.

package tunnel

import "sync"

// Pending tracks the callers waiting for a correlated response. Every entry
// holds a channel of capacity 1, so delivery never blocks even when the
// waiter has already given up. An entry is terminal once resolved: a second
// message for the same ID is unmatched.
type Pending struct {
	mu      sync.RWMutex
	closed  bool
	waiters map[string]chan *Message
}

// NewPending creates an empty correlation table.
func NewPending() *Pending {
	return &Pending{
		waiters: make(map[string]chan *Message),
	}
}

// Add registers a waiter for the given request ID and returns its delivery
// channel. If the table has already been closed the returned channel is
// closed too, so the caller observes the teardown immediately.
func (p *Pending) Add(id string) <-chan *Message {
	ch := make(chan *Message, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(ch)
		return ch
	}
	p.waiters[id] = ch
	return ch
}

// Remove drops the waiter for id, if any. Idempotent; callers invoke it on
// cancellation, timeout, and send failure without coordinating with the
// delivery path.
func (p *Pending) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, id)
}

// Resolve delivers msg to the waiter registered under its ID and removes
// the entry. Returns false when no waiter matches, which covers both
// responses for callers that already gave up and duplicate responses for an
// already-resolved ID.
func (p *Pending) Resolve(msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.waiters[msg.ID]
	if !ok {
		return false
	}
	delete(p.waiters, msg.ID)

	// Capacity 1 and the entry is gone, so this never blocks.
	select {
	case ch <- msg:
	default:
	}
	return true
}

// Close fails every remaining waiter by closing its channel and marks the
// table terminal: subsequent Adds hand back a closed channel. Used when the
// connection behind the table goes away.
func (p *Pending) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
}

// Len reports the number of in-flight entries.
func (p *Pending) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.waiters)
}
