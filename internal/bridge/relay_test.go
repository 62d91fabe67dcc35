package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport satisfies backendTransport for relay and server tests.
type fakeTransport struct {
	mu            sync.Mutex
	started       bool
	closed        bool
	requests      []transport.JSONRPCRequest
	notifications []mcp.JSONRPCNotification
	handler       func(mcp.JSONRPCNotification)

	startErr  error
	notifyErr error
	respond   func(transport.JSONRPCRequest) (*transport.JSONRPCResponse, error)
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeTransport) SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, request)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(request)
	}
	return &transport.JSONRPCResponse{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      request.ID,
		Result:  json.RawMessage(`{}`),
	}, nil
}

func (f *fakeTransport) SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, notification)
	return f.notifyErr
}

func (f *fakeTransport) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentRequests() []transport.JSONRPCRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.JSONRPCRequest(nil), f.requests...)
}

func (f *fakeTransport) sentNotifications() []mcp.JSONRPCNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mcp.JSONRPCNotification(nil), f.notifications...)
}

func (f *fakeTransport) notificationHandler() func(mcp.JSONRPCNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeTransport) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestParseEnvelopeRequest(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list","params":{"cursor":"abc"}}`))
	require.NoError(t, err)

	assert.Equal(t, "tools/list", env.Method)
	assert.Equal(t, "7", string(env.ID))
	assert.JSONEq(t, `{"cursor":"abc"}`, string(env.Params))
	assert.False(t, env.isNotification())
}

func TestParseEnvelopeRejectsInvalidJSON(t *testing.T) {
	_, err := parseEnvelope([]byte(`{"jsonrpc":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON-RPC payload")
}

func TestParseEnvelopeRequiresMethod(t *testing.T) {
	_, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing method")
}

func TestIsNotification(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"no id", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, true},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`, true},
		{"numeric id", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, false},
		{"string id", `{"jsonrpc":"2.0","id":"req-1","method":"ping"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, env.isNotification())
		})
	}
}

func TestBackendRequestPreservesIDAndParams(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{"name":"clone"}}`))
	require.NoError(t, err)

	req := env.backendRequest()
	assert.Equal(t, mcp.JSONRPC_VERSION, req.JSONRPC)
	assert.Equal(t, "tools/call", req.Method)
	assert.Equal(t, mcp.NewRequestId(float64(42)), req.ID)

	params, err := json.Marshal(req.Params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"clone"}`, string(params))
}

func TestBackendRequestStringID(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","id":"req-9","method":"ping"}`))
	require.NoError(t, err)

	req := env.backendRequest()
	assert.Equal(t, mcp.NewRequestId("req-9"), req.ID)
	assert.Nil(t, req.Params)
}

func TestBackendNotificationSplitsMeta(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"_meta":{"progressToken":"tok"},"progress":5}}`))
	require.NoError(t, err)

	notification, err := env.backendNotification()
	require.NoError(t, err)
	assert.Equal(t, "notifications/progress", notification.Notification.Method)
	assert.Equal(t, map[string]any{"progressToken": "tok"}, notification.Params.Meta)
	assert.Equal(t, map[string]any{"progress": float64(5)}, notification.Params.AdditionalFields)
}

func TestBackendNotificationWithoutParams(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)

	notification, err := env.backendNotification()
	require.NoError(t, err)
	assert.Equal(t, "notifications/initialized", notification.Notification.Method)
	assert.Nil(t, notification.Params.AdditionalFields)
}

func TestBackendNotificationRejectsNonObjectParams(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":[1,2]}`))
	require.NoError(t, err)

	_, err = env.backendNotification()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid notification params")
}

func TestRelayRequestPushesResponse(t *testing.T) {
	session := newSession("default/git-tools-x7f2p")
	fake := &fakeTransport{
		respond: func(req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
			return &transport.JSONRPCResponse{
				JSONRPC: mcp.JSONRPC_VERSION,
				ID:      req.ID,
				Result:  json.RawMessage(`{"tools":[]}`),
			}, nil
		},
	}
	session.transport = fake
	defer session.close("")

	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`))
	require.NoError(t, err)

	relayRequest(session, env.backendRequest())

	select {
	case payload := <-session.send:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, "2.0", decoded["jsonrpc"])
		assert.Equal(t, float64(3), decoded["id"])
		assert.Equal(t, map[string]any{"tools": []any{}}, decoded["result"])
	case <-time.After(time.Second):
		t.Fatal("no response pushed to session")
	}

	requests := fake.sentRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "tools/list", requests[0].Method)
}

func TestRelayRequestTransportFailureClosesSession(t *testing.T) {
	session := newSession("default/git-tools-x7f2p")
	fake := &fakeTransport{
		respond: func(transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
			return nil, errors.New("connection reset")
		},
	}
	session.transport = fake

	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`))
	require.NoError(t, err)

	relayRequest(session, env.backendRequest())

	select {
	case <-session.Done():
		assert.Contains(t, session.closeReason(), "relay failed")
		assert.Contains(t, session.closeReason(), "connection reset")
	default:
		t.Fatal("session not closed after transport failure")
	}
}

func TestRelayNotificationSends(t *testing.T) {
	session := newSession("default/git-tools-x7f2p")
	fake := &fakeTransport{}
	session.transport = fake
	defer session.close("")

	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	notification, err := env.backendNotification()
	require.NoError(t, err)

	relayNotification(session, notification)

	notifications := fake.sentNotifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "notifications/initialized", notifications[0].Notification.Method)
}

func TestRelayNotificationFailureClosesSession(t *testing.T) {
	session := newSession("default/git-tools-x7f2p")
	fake := &fakeTransport{notifyErr: errors.New("pipe closed")}
	session.transport = fake

	env, err := parseEnvelope([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	notification, err := env.backendNotification()
	require.NoError(t, err)

	relayNotification(session, notification)

	select {
	case <-session.Done():
		assert.Contains(t, session.closeReason(), "relay failed")
	default:
		t.Fatal("session not closed after notification failure")
	}
}

func TestNewBackendTransportKinds(t *testing.T) {
	sse, err := newBackendTransport(&Backend{Key: "default/a", Transport: "sse", Endpoint: "http://127.0.0.1:9090/sse"})
	require.NoError(t, err)
	assert.NotNil(t, sse)

	streamable, err := newBackendTransport(&Backend{Key: "default/a", Transport: "streamable-http", Endpoint: "http://127.0.0.1:9090/mcp"})
	require.NoError(t, err)
	assert.NotNil(t, streamable)

	stdio, err := newBackendTransport(&Backend{Key: "default/a", Transport: "stdio", Command: []string{"mcp-git", "--verbose"}})
	require.NoError(t, err)
	assert.NotNil(t, stdio)

	_, err = newBackendTransport(&Backend{Key: "default/a", Transport: "stdio"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")

	_, err = newBackendTransport(&Backend{Key: "default/a", Transport: "tcp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend transport")
}
