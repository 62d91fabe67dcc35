package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"corral/internal/api"
	"corral/pkg/logging"
)

// ErrServerNotReady signals that the server record exists but its workload
// is still coming up. The HTTP layer maps it to 503 with a Retry-After so
// clients poll instead of failing.
var ErrServerNotReady = errors.New("server not ready")

// sweepInterval is how often the idle session sweep runs.
const sweepInterval = time.Minute

// Config holds the bridge server settings.
type Config struct {
	// Host and Port the SSE endpoint binds to. Port 0 binds an ephemeral
	// port, reported by Addr once started.
	Host string
	Port int

	// PingInterval between keep-alive comments on idle streams.
	PingInterval time.Duration

	// MaxSessions caps concurrently open sessions across all servers.
	MaxSessions int

	// SessionMaxIdle is how long a session may go without traffic before
	// the sweep closes it.
	SessionMaxIdle time.Duration

	// DialTimeout bounds the backing transport dial per session open.
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = pingInterval
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 1000
	}
	if c.SessionMaxIdle == 0 {
		c.SessionMaxIdle = 30 * time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	return c
}

// dialFunc opens the backing transport for a new session. A field so
// tests can substitute a fake transport.
type dialFunc func(session *Session, backend *Backend, dialTimeout time.Duration) (backendTransport, error)

// Server terminates client-facing SSE sessions and relays JSON-RPC to the
// backing MCP servers.
type Server struct {
	config   Config
	resolver BackendResolver
	registry *SessionRegistry
	activity *ActivityTracker
	dial     dialFunc

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a bridge server. The resolver decides which servers
// are reachable and how.
func NewServer(config Config, resolver BackendResolver) *Server {
	config = config.withDefaults()
	return &Server{
		config:   config,
		resolver: resolver,
		registry: NewSessionRegistry(config.MaxSessions),
		activity: NewActivityTracker(),
		dial:     openBackendTransport,
	}
}

// Activity exposes the tracker for the api adapter and the shim.
func (s *Server) Activity() *ActivityTracker {
	return s.activity
}

// Registry exposes the session registry for the api adapter.
func (s *Server) Registry() *SessionRegistry {
	return s.registry
}

// Handler returns the HTTP handler serving the bridge endpoints. Separate
// from Start so the shim can mount it on its own listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/servers/", s.handleServers)
	return mux
}

// Start binds the listener and serves until the context ends or Shutdown
// is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("bridge already started")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	server := &http.Server{
		Handler: s.Handler(),
		// No WriteTimeout: SSE streams stay open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Bridge", err, "Bridge serve error")
		}
	}()
	go s.sweepLoop(ctx)

	logging.Info("Bridge", "Bridge listening on %s", listener.Addr().String())
	return nil
}

// Shutdown closes every session with a final error event and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.listener = nil
	s.httpServer = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.registry.CloseAll("bridge shutting down")
	return server.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := s.registry.SweepIdle(s.config.SessionMaxIdle); swept > 0 {
				logging.Info("Bridge", "Swept %d idle sessions", swept)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleServers routes /servers/{name}/sse and /servers/{name}/message.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/servers/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	name, action := parts[0], parts[1]

	switch action {
	case "sse":
		s.handleSSE(w, r, name)
	case "message":
		s.handleMessage(w, r, name)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleSSE opens a session: resolves the backend, dials it, registers the
// session and then owns the response writer until the session ends.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	backend, err := s.resolver.ResolveBackend(r.Context(), name)
	if err != nil {
		s.writeResolveError(w, name, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session := newSession(backend.Key)

	tr, err := s.dial(session, backend, s.config.DialTimeout)
	if err != nil {
		session.close("")
		logging.Warn("Bridge", "Failed to dial backend for %s: %v", backend.Key, err)
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("failed to reach server: %v", err))
		return
	}
	session.transport = tr

	if err := s.registry.Add(session); err != nil {
		session.close("")
		tr.Close()
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.activity.SessionOpened(session.ServerKey)
	logging.Debug("Bridge", "Session %s opened for %s", session.ID, session.ServerKey)

	defer func() {
		session.close("")
		s.registry.Remove(session.ID)
		s.activity.SessionClosed(session.ServerKey)
		tr.Close()
		logging.Debug("Bridge", "Session %s closed for %s", session.ID, session.ServerKey)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("/servers/%s/message?sessionId=%s", name, session.ID)
	writeSSEEvent(w, flusher, eventEndpoint, []byte(endpoint))

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-session.Done():
			if reason := session.closeReason(); reason != "" {
				writeSSEEvent(w, flusher, eventError, errorPayload(reason))
			}
			return
		case payload := <-session.send:
			writeSSEEvent(w, flusher, eventMessage, payload)
		case <-ticker.C:
			writeSSEComment(w, flusher, "ping")
		}
	}
}

// handleMessage accepts a JSON-RPC message for an open session. The
// message is relayed asynchronously; responses come back over the stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sessionId")
		return
	}

	session, ok := s.registry.Get(sessionID)
	if !ok || nameOfKey(session.ServerKey) != name {
		writeJSONError(w, http.StatusNotFound, api.NewSessionNotFoundError(sessionID).Error())
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxMessageBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	env, err := parseEnvelope(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if env.isNotification() {
		notification, err := env.backendNotification()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.activity.RequestRelayed(session.ServerKey)
		session.touch()
		go relayNotification(session, notification)
	} else {
		s.activity.RequestRelayed(session.ServerKey)
		session.touch()
		go relayRequest(session, env.backendRequest())
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// writeResolveError maps resolver failures onto the HTTP surface.
func (s *Server) writeResolveError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, ErrServerNotReady):
		w.Header().Set("Retry-After", "3")
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case api.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case api.IsTransport(err):
		// The server exists but is not in a servable phase.
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		logging.Error("Bridge", err, "Failed to resolve backend for %s", name)
		writeJSONError(w, http.StatusInternalServerError, "failed to resolve server")
	}
}

// writeSSEEvent writes one event. Data is split across data: lines if it
// contains newlines, per the SSE format.
func writeSSEEvent(w io.Writer, flusher http.Flusher, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range bytes.Split(data, []byte("\n")) {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}

func writeSSEComment(w io.Writer, flusher http.Flusher, comment string) {
	fmt.Fprintf(w, ": %s\n\n", comment)
	flusher.Flush()
}

func errorPayload(reason string) []byte {
	payload, _ := json.Marshal(map[string]string{"error": reason})
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// nameOfKey extracts the server name from a namespace/name key.
func nameOfKey(serverKey string) string {
	if i := strings.LastIndex(serverKey, "/"); i >= 0 {
		return serverKey[i+1:]
	}
	return serverKey
}
