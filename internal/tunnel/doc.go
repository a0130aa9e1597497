// Package tunnel implements the manager<->agent message protocol and the
// manager-side connection state.
//
// # Overview
//
// Agents behind NAT dial out to the manager and hold a single WebSocket
// open. Every HTTP request proxied to an agent travels over that one
// connection as a JSON message and comes back the same way, so the package
// has to multiplex many concurrent exchanges over one ordered byte stream.
//
// # Message
//
// Message is the only entity on the wire, one per WebSocket text frame:
//
//	type Message struct {
//	    ID      string
//	    Type    MessageType // "request" or "response"
//	    Method  string
//	    Path    string
//	    Headers map[string]string
//	    Body    []byte
//	    Status  int
//	    Error   string
//	}
//
// A response echoes its request's ID; that echo is the only thing tying the
// two directions together.
//
// # Request/Response Correlation
//
// When the manager sends a request to an agent, the Tunnel:
//
//  1. Generates a unique request ID
//  2. Registers a single-slot response channel in the Pending table
//  3. Writes the message to the connection
//  4. Blocks on the channel, the caller's context, or tunnel shutdown
//
// The receive loop routes each inbound response to its channel by ID.
// Responses nobody is waiting for (the caller timed out, or the ID is
// unknown) are logged and dropped. Whichever path wins, the pending entry
// is removed exactly once, so the table drains to zero between requests.
//
// # Connection Lifecycle
//
// Conn serializes concurrent writers with a single lock so frames never
// interleave, and runs the standard ping/pong keepalive: pings every 20s,
// read deadline of 60s refreshed on each pong. A tunnel whose connection
// dies fails all in-flight requests immediately instead of letting them
// ride out their deadlines.
//
// # Registry
//
// Registry maps agent IDs to live tunnels. An agent reconnecting under an
// ID it already holds replaces the old tunnel, which is then closed; an old
// tunnel's teardown never evicts its replacement.
//
// # Thread Safety
//
// Pending, Conn, Tunnel, and Registry are all safe for concurrent use.
package tunnel
