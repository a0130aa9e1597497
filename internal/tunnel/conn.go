// ABOUTME: Conn frames tunnel Messages over a single WebSocket connection.
// ABOUTME: Serializes concurrent writers and runs the ping/pong keepalive.

package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMalformedMessage marks a frame that arrived intact but failed to
// deserialize. Receive loops log and skip these; only genuine connection
// errors terminate a loop.
var ErrMalformedMessage = errors.New("malformed tunnel message")

// MessageConn is the transport a tunnel half runs over: send and receive
// whole messages, nothing else. Conn is the production implementation;
// tests substitute in-memory fakes.
type MessageConn interface {
	Send(msg *Message) error
	Receive() (*Message, error)
	Close() error
}

// Conn wraps one WebSocket connection. Writes from multiple goroutines are
// serialized by a single writer lock so frames never interleave; reads are
// only ever performed by the owning receive loop.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send marshals msg and writes it as one text frame. Safe for concurrent
// use.
func (c *Conn) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Receive blocks until the next frame arrives or the connection closes.
// A frame that fails to deserialize is reported as ErrMalformedMessage;
// any other error means the connection is gone.
func (c *Conn) Receive() (*Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// Close tears down the underlying WebSocket. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

// StartKeepalive installs the pong handler, arms the read deadline, and
// starts the ping ticker. The returned stop function must be called when
// the connection's receive loop exits.
func (c *Conn) StartKeepalive() func() {
	_ = c.ws.SetReadDeadline(time.Now().Add(PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(PingPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
