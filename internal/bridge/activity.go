package bridge

import (
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"corral/internal/api"
	"corral/pkg/logging"
)

// activityEventBuffer sizes the subscriber channel. Events are a wake-up
// nudge, not a ledger; the periodic resync catches anything dropped here.
const activityEventBuffer = 256

// serverActivity holds the per-server counters. All fields are atomics so
// relays never contend on a lock.
type serverActivity struct {
	totalRequests      atomic.Int64
	currentConnections atomic.Int32
	lastActivityNano   atomic.Int64
}

// ActivityTracker aggregates bridge traffic per server key and publishes
// change events for the controller.
type ActivityTracker struct {
	entries cmap.ConcurrentMap[string, *serverActivity]
	events  chan api.ActivityEvent
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		entries: cmap.New[*serverActivity](),
		events:  make(chan api.ActivityEvent, activityEventBuffer),
	}
}

// SessionOpened records a new session on the server. Opening counts as
// activity so an idle server wakes as soon as a client connects.
func (t *ActivityTracker) SessionOpened(serverKey string) {
	entry := t.entry(serverKey)
	entry.currentConnections.Add(1)
	entry.lastActivityNano.Store(time.Now().UnixNano())
	t.publish(serverKey, api.ActivitySessionOpened)
}

// SessionClosed records a session ending.
func (t *ActivityTracker) SessionClosed(serverKey string) {
	entry := t.entry(serverKey)
	if entry.currentConnections.Add(-1) < 0 {
		entry.currentConnections.Store(0)
	}
	t.publish(serverKey, api.ActivitySessionClosed)
}

// RequestRelayed records one JSON-RPC message relayed to the server.
func (t *ActivityTracker) RequestRelayed(serverKey string) {
	entry := t.entry(serverKey)
	entry.totalRequests.Add(1)
	entry.lastActivityNano.Store(time.Now().UnixNano())
	t.publish(serverKey, api.ActivityRequest)
}

// Snapshot returns the current counters for a server key. The bool reports
// whether the bridge has seen the server at all.
func (t *ActivityTracker) Snapshot(serverKey string) (api.ActivitySnapshot, bool) {
	entry, ok := t.entries.Get(serverKey)
	if !ok {
		return api.ActivitySnapshot{}, false
	}

	snapshot := api.ActivitySnapshot{
		TotalRequests:      entry.totalRequests.Load(),
		CurrentConnections: entry.currentConnections.Load(),
	}
	if nano := entry.lastActivityNano.Load(); nano > 0 {
		snapshot.LastRequestAt = time.Unix(0, nano)
	}
	return snapshot, true
}

// Forget drops the counters for a server key. Called when the server's
// workload is torn down so a later incarnation starts from zero.
func (t *ActivityTracker) Forget(serverKey string) {
	t.entries.Remove(serverKey)
}

// Events returns the subscriber channel.
func (t *ActivityTracker) Events() <-chan api.ActivityEvent {
	return t.events
}

func (t *ActivityTracker) entry(serverKey string) *serverActivity {
	if entry, ok := t.entries.Get(serverKey); ok {
		return entry
	}

	entry := &serverActivity{}
	if !t.entries.SetIfAbsent(serverKey, entry) {
		if existing, ok := t.entries.Get(serverKey); ok {
			return existing
		}
	}
	return entry
}

func (t *ActivityTracker) publish(serverKey, kind string) {
	event := api.ActivityEvent{ServerKey: serverKey, Kind: kind, At: time.Now()}
	select {
	case t.events <- event:
	default:
		logging.Debug("Bridge", "Activity event dropped for %s, subscriber behind", serverKey)
	}
}
