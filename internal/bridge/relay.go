package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"corral/pkg/logging"
)

// rpcEnvelope is the minimal parse needed to route a posted message.
// Everything except the routing fields passes through untouched.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func parseEnvelope(body []byte) (*rpcEnvelope, error) {
	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC payload: %w", err)
	}
	if env.Method == "" {
		return nil, fmt.Errorf("invalid JSON-RPC payload: missing method")
	}
	return &env, nil
}

// isNotification reports whether the message carries no id and therefore
// expects no response.
func (env *rpcEnvelope) isNotification() bool {
	return len(env.ID) == 0 || string(env.ID) == "null"
}

// backendRequest converts the envelope into the transport request type,
// keeping id and params verbatim.
func (env *rpcEnvelope) backendRequest() transport.JSONRPCRequest {
	req := transport.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      requestID(env.ID),
		Method:  env.Method,
	}
	if len(env.Params) > 0 {
		req.Params = env.Params
	}
	return req
}

// backendNotification converts the envelope into the mcp notification
// type. Params must be a JSON object, which JSON-RPC over MCP guarantees.
func (env *rpcEnvelope) backendNotification() (mcp.JSONRPCNotification, error) {
	notification := mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{
			Method: env.Method,
		},
	}

	if len(env.Params) > 0 && string(env.Params) != "null" {
		var fields map[string]any
		if err := json.Unmarshal(env.Params, &fields); err != nil {
			return notification, fmt.Errorf("invalid notification params: %w", err)
		}
		if meta, ok := fields["_meta"].(map[string]any); ok {
			notification.Params.Meta = meta
			delete(fields, "_meta")
		}
		notification.Params.AdditionalFields = fields
	}

	return notification, nil
}

// requestID preserves the client's id value so the response correlates.
func requestID(raw json.RawMessage) mcp.RequestId {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return mcp.NewRequestId(string(raw))
	}
	return mcp.NewRequestId(value)
}

// relayRequest sends a request to the backend and pushes the response onto
// the session stream. Runs as a goroutine per message; a transport failure
// ends the session since the backing channel is no longer trustworthy.
func relayRequest(session *Session, req transport.JSONRPCRequest) {
	ctx, cancel := contextWithRelayTimeout(session)
	defer cancel()

	resp, err := session.transport.SendRequest(ctx, req)
	if err != nil {
		logging.Warn("Bridge", "Relay failed for session %s: %v", session.ID, err)
		session.close(fmt.Sprintf("relay failed: %v", err))
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		logging.Error("Bridge", err, "Failed to encode backend response for session %s", session.ID)
		session.close("relay failed: bad backend response")
		return
	}
	session.push(payload)
}

// relayNotification sends a fire-and-forget notification to the backend.
func relayNotification(session *Session, notification mcp.JSONRPCNotification) {
	ctx, cancel := contextWithRelayTimeout(session)
	defer cancel()

	if err := session.transport.SendNotification(ctx, notification); err != nil {
		logging.Warn("Bridge", "Notification relay failed for session %s: %v", session.ID, err)
		session.close(fmt.Sprintf("relay failed: %v", err))
	}
}

// notificationPayload renders a server-initiated notification for the SSE
// stream.
func notificationPayload(notification mcp.JSONRPCNotification) ([]byte, bool) {
	payload, err := json.Marshal(notification)
	if err != nil {
		logging.Error("Bridge", err, "Failed to encode backend notification")
		return nil, false
	}
	return payload, true
}

// openBackendTransport builds and starts the backing transport with a
// short dial retry, covering the race where a session opens just as the
// workload finishes coming up. Each attempt gets a fresh transport since a
// half-started one cannot be restarted.
func openBackendTransport(session *Session, backend *Backend, dialTimeout time.Duration) (backendTransport, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dialRetryInitial
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = dialTimeout

	var opened backendTransport
	err := backoff.Retry(func() error {
		tr, err := newBackendTransport(backend)
		if err != nil {
			return backoff.Permanent(err)
		}

		tr.SetNotificationHandler(func(notification mcp.JSONRPCNotification) {
			if payload, ok := notificationPayload(notification); ok {
				session.push(payload)
			}
		})

		// The session context, not a request context: the transport's
		// stream must live as long as the session does.
		if err := tr.Start(session.ctx); err != nil {
			tr.Close()
			return err
		}

		opened = tr
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, dialRetries), session.ctx))
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// newBackendTransport picks the mcp-go transport for a backend.
func newBackendTransport(backend *Backend) (backendTransport, error) {
	switch backend.Transport {
	case "sse":
		return transport.NewSSE(backend.Endpoint)
	case "streamable-http":
		return transport.NewStreamableHTTP(backend.Endpoint)
	case "stdio":
		if len(backend.Command) == 0 {
			return nil, fmt.Errorf("stdio backend for %s has no command", backend.Key)
		}
		return transport.NewStdio(backend.Command[0], backend.Env, backend.Command[1:]...), nil
	default:
		return nil, fmt.Errorf("unsupported backend transport %q for %s", backend.Transport, backend.Key)
	}
}

func contextWithRelayTimeout(session *Session) (context.Context, context.CancelFunc) {
	return context.WithTimeout(session.ctx, relayTimeout)
}
