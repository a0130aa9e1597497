// ABOUTME: Wire message model for the manager<->agent tunnel protocol.
// ABOUTME: One JSON-encoded Message per WebSocket frame, correlated by ID.

package tunnel

import "time"

// MessageType distinguishes the two directions of a tunneled exchange.
type MessageType string

const (
	// MessageTypeRequest is sent from manager to agent.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse is sent from agent to manager, echoing the
	// request's ID.
	MessageTypeResponse MessageType = "response"
)

// AgentIDHeader names the agent during the WebSocket handshake.
const AgentIDHeader = "X-Skyhook-Agent-ID"

// WebSocket keepalive constants. PingPeriod must be less than PongWait so
// pings go out before the read deadline expires; the 20s/60s ratio detects a
// dead connection within a minute.
const (
	PongWait   = 60 * time.Second
	PingPeriod = 20 * time.Second
	WriteWait  = 5 * time.Second
)

// Message is the only entity crossing the wire. Method and Path are set on
// requests; Status on responses. Error is set only when the agent could not
// complete the exchange at all, as opposed to completing it with a non-2xx
// status. Body is raw bytes (base64 in the JSON encoding) and must
// round-trip arbitrary content.
type Message struct {
	ID      string            `json:"id"`
	Type    MessageType       `json:"type"`
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Status  int               `json:"status,omitempty"`
	Error   string            `json:"error,omitempty"`
}
