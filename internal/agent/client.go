// ABOUTME: Agent-side tunnel client: dials the manager and replays requests.
// ABOUTME: Maintains the outbound connection with jittered backoff reconnect.

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyhook-io/skyhook/internal/tunnel"
)

// Reconnect backoff: exponential with jitter, reset after a session that
// survived long enough to be considered stable.
const (
	minBackoff    = 500 * time.Millisecond
	maxBackoff    = 30 * time.Second
	backoffFactor = 1.6
	backoffReset  = 10 * time.Second
)

// Client is the agent half of the tunnel. It opens one outbound WebSocket
// to the manager, receives request messages, executes each against the
// local handler, and sends the captured response back under the same ID.
type Client struct {
	managerURL string
	agentID    string
	token      string
	handler    http.Handler
	logger     *slog.Logger
}

// NewClient creates a tunnel client. managerURL is the manager's WebSocket
// endpoint (ws:// or wss://); handler is the local HTTP handler requests
// are replayed against.
func NewClient(managerURL, agentID, token string, handler http.Handler, logger *slog.Logger) *Client {
	return &Client{
		managerURL: managerURL,
		agentID:    agentID,
		token:      token,
		handler:    handler,
		logger:     logger,
	}
}

// Run connects to the manager and reconnects with backoff until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		start := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("tunnel session ended", "error", err)

		if time.Since(start) > backoffReset {
			backoff = minBackoff
		} else if backoff < maxBackoff {
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		wait := backoff/2 + rand.N(backoff/2)
		c.logger.Info("reconnecting", "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// connect runs one tunnel session: dial, pump request messages, execute
// each on its own goroutine. Returns when the connection dies or ctx ends.
func (c *Client) connect(ctx context.Context) error {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.token)
	hdr.Set(tunnel.AgentIDHeader, c.agentID)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.managerURL, hdr)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s: %w (status %d)", c.managerURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dialing %s: %w", c.managerURL, err)
	}

	conn := tunnel.NewConn(ws)
	defer conn.Close()
	stop := conn.StartKeepalive()
	defer stop()

	c.logger.Info("tunnel connected", "manager", c.managerURL, "agent_id", c.agentID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := conn.Receive()
			if err != nil {
				if errors.Is(err, tunnel.ErrMalformedMessage) {
					c.logger.Warn("dropping malformed frame", "error", err)
					continue
				}
				return
			}
			if msg.Type != tunnel.MessageTypeRequest {
				c.logger.Warn("dropping unexpected message type", "type", msg.Type, "request_id", msg.ID)
				continue
			}
			go c.handle(conn, msg)
		}
	}()

	select {
	case <-done:
		return errors.New("connection closed")
	case <-ctx.Done():
		conn.Close()
		<-done
		return ctx.Err()
	}
}

// handle executes one request message and sends the response back. Send
// failures are logged; the manager's pending entry times out on its own.
func (c *Client) handle(conn *tunnel.Conn, msg *tunnel.Message) {
	resp := c.execute(msg)
	if err := conn.Send(resp); err != nil {
		c.logger.Error("sending response", "request_id", msg.ID, "error", err)
	}
}

// execute reconstructs the HTTP request carried by msg and replays it
// against the local handler via an in-memory recorder. Headers are applied
// verbatim; stripping is exclusively the manager-side ingress's job. A Host
// header is promoted to the request's Host field so the local router can do
// virtual-host dispatch. Only reconstruction failures populate Error;
// whatever status the handler produces, including 5xx, is a normal
// response.
func (c *Client) execute(msg *tunnel.Message) *tunnel.Message {
	req, err := http.NewRequest(msg.Method, msg.Path, bytes.NewReader(msg.Body))
	if err != nil {
		c.logger.Error("reconstructing request", "request_id", msg.ID, "error", err)
		return &tunnel.Message{
			ID:     msg.ID,
			Type:   tunnel.MessageTypeResponse,
			Status: http.StatusBadGateway,
			Error:  fmt.Sprintf("reconstructing request: %v", err),
		}
	}
	for name, value := range msg.Headers {
		if http.CanonicalHeaderKey(name) == "Host" {
			req.Host = value
			continue
		}
		req.Header.Set(name, value)
	}

	rec := newRecorder()
	c.handler.ServeHTTP(rec, req)

	return &tunnel.Message{
		ID:      msg.ID,
		Type:    tunnel.MessageTypeResponse,
		Status:  rec.status,
		Headers: rec.flatHeaders(),
		Body:    rec.body.Bytes(),
	}
}
