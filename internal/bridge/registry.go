package bridge

import (
	"errors"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"corral/pkg/logging"
)

// ErrSessionLimit is returned when the registry holds the maximum number of
// concurrent sessions.
var ErrSessionLimit = errors.New("session limit reached")

// SessionRegistry indexes open sessions by ID and enforces the global
// session cap.
type SessionRegistry struct {
	sessions cmap.ConcurrentMap[string, *Session]
	max      int
}

// NewSessionRegistry creates a registry capped at max sessions; max <= 0
// disables the cap.
func NewSessionRegistry(max int) *SessionRegistry {
	return &SessionRegistry{
		sessions: cmap.New[*Session](),
		max:      max,
	}
}

// Add registers a session. The cap check and insert are not atomic; a
// burst can overshoot by a few sessions, which is fine for a guard.
func (r *SessionRegistry) Add(s *Session) error {
	if r.max > 0 && r.sessions.Count() >= r.max {
		return ErrSessionLimit
	}
	r.sessions.Set(s.ID, s)
	return nil
}

// Get looks a session up by ID.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Remove forgets a session. The owning handler calls this on exit.
func (r *SessionRegistry) Remove(id string) {
	r.sessions.Remove(id)
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	return r.sessions.Count()
}

// CountForServer returns the number of sessions bound to a server key.
func (r *SessionRegistry) CountForServer(serverKey string) int {
	count := 0
	for item := range r.sessions.IterBuffered() {
		if item.Val.ServerKey == serverKey {
			count++
		}
	}
	return count
}

// CloseForServer closes every session bound to a server key. The sessions
// stay registered until their handlers observe the close and exit.
func (r *SessionRegistry) CloseForServer(serverKey, reason string) int {
	closed := 0
	for item := range r.sessions.IterBuffered() {
		if item.Val.ServerKey == serverKey {
			item.Val.close(reason)
			closed++
		}
	}
	return closed
}

// CloseAll closes every session. Used on shutdown.
func (r *SessionRegistry) CloseAll(reason string) {
	for item := range r.sessions.IterBuffered() {
		item.Val.close(reason)
	}
}

// SweepIdle closes sessions without traffic for longer than maxIdle. An
// abandoned session would otherwise hold its server out of the idle phase
// forever through its open connection.
func (r *SessionRegistry) SweepIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	now := time.Now()
	swept := 0
	for item := range r.sessions.IterBuffered() {
		if item.Val.idleFor(now) > maxIdle {
			logging.Debug("Bridge", "Sweeping idle session %s for %s", item.Val.ID, item.Val.ServerKey)
			item.Val.close("session idle too long")
			swept++
		}
	}
	return swept
}
