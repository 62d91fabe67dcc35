package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one client-facing SSE stream bound to one backing transport.
// The HTTP handler goroutine owns the response writer; relay goroutines
// hand it payloads through send.
type Session struct {
	// ID is the opaque session identifier clients echo back on the message
	// endpoint.
	ID string

	// ServerKey is the namespace/name of the server this session talks to.
	ServerKey string

	transport backendTransport

	// ctx outlives any single HTTP exchange; the backing transport's
	// stream and all relays run under it.
	ctx    context.Context
	cancel context.CancelFunc

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	reason string

	lastActiveNano atomic.Int64
}

func newSession(serverKey string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        uuid.NewString(),
		ServerKey: serverKey,
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan []byte, sendBuffer),
		closed:    make(chan struct{}),
	}
	s.touch()
	return s
}

// push queues an outbound message event. A client that cannot drain its
// buffer within the stall timeout loses the session.
func (s *Session) push(payload []byte) bool {
	select {
	case s.send <- payload:
		s.touch()
		return true
	case <-s.closed:
		return false
	case <-time.After(sendStallTimeout):
		s.close("client not consuming events, closing session")
		return false
	}
}

// close marks the session closed. The first caller's reason wins and is
// emitted as the final error event; an empty reason means a clean close.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.cancel()
		close(s.closed)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) touch() {
	s.lastActiveNano.Store(time.Now().UnixNano())
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActiveNano.Load()))
}
