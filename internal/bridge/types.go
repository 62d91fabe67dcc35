package bridge

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// SSE event names on the client-facing stream.
const (
	// eventEndpoint carries the message-post URL for the session, sent once
	// as the first event on every stream.
	eventEndpoint = "endpoint"

	// eventMessage carries a raw JSON-RPC payload from the backing server.
	eventMessage = "message"

	// eventError carries a terminal relay failure; the stream closes after.
	eventError = "error"
)

const (
	// pingInterval is how often the comment keep-alive is written so idle
	// streams survive proxies with read timeouts.
	pingInterval = 30 * time.Second

	// sendBuffer is the per-session buffer of pending outbound events.
	sendBuffer = 32

	// sendStallTimeout is how long a relay waits on a full session buffer
	// before declaring the client too slow and closing the session.
	sendStallTimeout = 5 * time.Second

	// maxMessageBytes caps a single posted JSON-RPC message.
	maxMessageBytes = 4 << 20

	// dialRetries bounds the transport start retries when a session opens
	// right as the backing workload comes up.
	dialRetries      = 3
	dialRetryInitial = 100 * time.Millisecond

	// relayTimeout bounds a single backend request. Tool calls can run for
	// a while; this only catches a hung backend.
	relayTimeout = 2 * time.Minute
)

// Backend describes one relay target the bridge can open sessions against.
type Backend struct {
	// Key identifies the server as namespace/name. Activity is tracked and
	// sessions are indexed under this key.
	Key string

	// Transport is the protocol spoken toward the backend: sse,
	// streamable-http or stdio. Pool instances always expose an HTTP
	// transport (stdio pools are wrapped by the shim inside the pod); stdio
	// appears only when the bridge itself runs as the shim.
	Transport string

	// Endpoint is the backend URL for HTTP transports.
	Endpoint string

	// Command and Env describe the child process for the stdio transport.
	Command []string
	Env     []string
}

// BackendResolver resolves a server name from the URL path to a relay
// target. Implementations gate on lifecycle phase and return the error
// taxonomy the HTTP layer maps to status codes.
type BackendResolver interface {
	ResolveBackend(ctx context.Context, name string) (*Backend, error)
}

// backendTransport is the slice of mcp-go's transport interface the relay
// needs. Concrete transports (SSE, StreamableHTTP, Stdio) all satisfy it;
// tests substitute fakes.
type backendTransport interface {
	Start(ctx context.Context) error
	SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error)
	SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error
	SetNotificationHandler(handler func(notification mcp.JSONRPCNotification))
	Close() error
}
