// Package proxy turns inbound HTTP requests into tunnel messages.
//
// The Ingress handler is mounted at /agents/{agentID}/proxy/* on the
// manager. It looks the agent up in the registry, flattens and filters the
// request's headers, ships the request over the tunnel, and writes the
// correlated response back out.
//
// Browser security headers (Origin, Referer, Cookie, the CORS preflight
// pair, and the Sec-Fetch-* set) are stripped here and only here: the
// manager's own browser-facing context must not leak into the agent's local
// service, where it would trip CORS and cookie checks that have nothing to
// do with the proxied request. Everything else, Authorization included,
// passes through untouched, and the original Host is carried along for
// virtual-host routing on the far side.
//
// Failure mapping: an unreachable or unconnected agent is 502, an expired
// wait is 504, and an agent-side application error (any status the local
// handler produced, 5xx included) passes through as-is.
package proxy
