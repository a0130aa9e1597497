// ABOUTME: Tunnel is the manager-side half of one agent connection.
// ABOUTME: Gives callers a synchronous SendRequest over the async transport.

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrTunnelClosed indicates the agent's connection went away while a
// request was in flight (or before it could be sent).
var ErrTunnelClosed = errors.New("tunnel closed")

// Tunnel owns one agent's connection, its pending-request table, and the
// background receive loop that correlates responses back to waiting
// callers. Constructed with NewTunnel, torn down by Close or by the
// connection failing.
type Tunnel struct {
	ID string

	conn        MessageConn
	pending     *Pending
	logger      *slog.Logger
	connectedAt time.Time

	// lastActive is maintained by a detached goroutine fed through
	// activity, so request paths never block on bookkeeping.
	lastActive atomic.Int64
	activity   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewTunnel wraps conn and starts the receive loop. The caller keeps no
// responsibility beyond eventually calling Close (or waiting on Done when
// the remote side drives the lifecycle).
func NewTunnel(id string, conn MessageConn, logger *slog.Logger) *Tunnel {
	now := time.Now()
	t := &Tunnel{
		ID:          id,
		conn:        conn,
		pending:     NewPending(),
		logger:      logger,
		connectedAt: now,
		activity:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	t.lastActive.Store(now.UnixNano())

	go t.recordActivity()
	go t.readLoop()
	return t
}

// SendRequest sends msg to the agent and blocks until the correlated
// response arrives, ctx ends, or the tunnel closes. The pending entry is
// removed exactly once on every path.
func (t *Tunnel) SendRequest(ctx context.Context, msg *Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Type = MessageTypeRequest

	ch := t.pending.Add(msg.ID)

	if err := t.conn.Send(msg); err != nil {
		t.pending.Remove(msg.ID)
		return nil, fmt.Errorf("sending request %s to agent %s: %w", msg.ID, t.ID, err)
	}
	t.touch()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrTunnelClosed
		}
		return resp, nil
	case <-ctx.Done():
		t.pending.Remove(msg.ID)
		return nil, fmt.Errorf("waiting for response to %s: %w", msg.ID, ctx.Err())
	}
}

// Close tears the tunnel down: fails all pending callers, closes the
// connection, and unblocks Done. Idempotent and safe to call concurrently
// with the receive loop's own teardown.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.pending.Close()
		_ = t.conn.Close()
	})
}

// Done is closed when the tunnel has shut down, whichever side initiated it.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// ConnectedAt reports when the tunnel was established.
func (t *Tunnel) ConnectedAt() time.Time {
	return t.connectedAt
}

// LastActive reports the last time a frame moved in either direction.
func (t *Tunnel) LastActive() time.Time {
	return time.Unix(0, t.lastActive.Load())
}

// InFlight reports the number of requests still awaiting a response.
func (t *Tunnel) InFlight() int {
	return t.pending.Len()
}

// readLoop pumps inbound frames until the connection dies. Malformed frames
// and unmatched responses are logged and dropped; they never terminate the
// loop. In-flight requests are failed immediately when the loop exits
// rather than left to ride out their deadlines.
func (t *Tunnel) readLoop() {
	defer t.Close()

	for {
		msg, err := t.conn.Receive()
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				t.logger.Warn("dropping malformed frame", "agent_id", t.ID, "error", err)
				continue
			}
			t.logger.Debug("tunnel read loop ended", "agent_id", t.ID, "error", err)
			return
		}
		t.touch()

		if msg.Type != MessageTypeResponse {
			t.logger.Warn("dropping unexpected message type",
				"agent_id", t.ID,
				"type", msg.Type,
				"request_id", msg.ID,
			)
			continue
		}

		if !t.pending.Resolve(msg) {
			// The caller already timed out or was cancelled.
			t.logger.Warn("dropping unmatched response",
				"agent_id", t.ID,
				"request_id", msg.ID,
			)
		}
	}
}

func (t *Tunnel) recordActivity() {
	for {
		select {
		case <-t.done:
			return
		case <-t.activity:
			t.lastActive.Store(time.Now().UnixNano())
		}
	}
}

func (t *Tunnel) touch() {
	select {
	case t.activity <- struct{}{}:
	default:
	}
}
