// Package agent implements the agent half of the tunnel.
//
// Client dials out to the manager, holds the WebSocket open with jittered
// exponential reconnect backoff, and replays each inbound request message
// against a local http.Handler. The handler's response is captured in
// memory and shipped back under the request's ID. Each request runs on its
// own goroutine, so a slow exchange never blocks the ones behind it.
//
// Target is the handler production agents use: it forwards every request to
// the local service's base URL. Tests substitute plain handlers.
package agent
