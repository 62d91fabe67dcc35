// Package bridge terminates client connections and relays JSON-RPC
// traffic to the MCP servers the controller runs.
//
// # Protocol
//
// Clients speak the SSE flavor of MCP. GET /servers/{name}/sse opens a
// stream; the first event is an endpoint event carrying the POST URL for
// that session. Messages POSTed there are relayed to the backing server
// over its own transport (SSE, streamable HTTP, or stdio via the shim),
// and responses and server notifications come back over the stream. The
// bridge never rewrites payloads; it parses just enough of each message
// to route it.
//
// # Sessions
//
// A Session pins one client stream to one backing transport. The session
// owns its lifecycle context: the backing stream and all in-flight relays
// end when the session closes, whether the client disconnected, the relay
// failed, or the controller tore the server down. An idle sweep closes
// abandoned sessions so a dead client cannot hold a server out of the
// idle phase through its open connection.
//
// # Activity
//
// Every session open, close, and relayed request is counted per server
// and published on an event channel. The controller folds the snapshot
// into its idle tracking and uses the events to reconcile promptly
// instead of waiting for resync.
package bridge
