package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"corral/internal/api"
	"corral/pkg/logging"
)

// ActivityBridge implements ChangeDetector over the transport bridge's
// activity stream. Session opens, closes and relayed requests trigger a
// reconcile of the affected server, so status counters stay fresh and an
// idle instance wakes without waiting for the periodic resync.
//
// Bridge traffic is bursty where informer events are not: one MCP client can
// relay dozens of requests a second. Events are therefore debounced per
// server on the trailing edge, the first event arms a timer and everything
// that arrives inside the window coalesces into one reconcile with the
// settled counters.
type ActivityBridge struct {
	mu sync.Mutex

	// namespace fills in server keys that arrive without one
	namespace string

	// debounce is the per-server coalescing window
	debounce time.Duration

	// pending holds the armed timer per server key
	pending map[string]*time.Timer

	// changeChan is the channel to send change events to
	changeChan chan<- ChangeEvent

	// ctx is the detector's context
	ctx context.Context

	// cancelFunc cancels the detector's context
	cancelFunc context.CancelFunc

	// wg tracks the event processing goroutine
	wg sync.WaitGroup

	// running indicates if the detector is active
	running bool
}

// NewActivityBridge creates a bridge activity detector.
//
// Args:
//   - namespace: Namespace assumed for server keys without one
//   - debounce: Coalescing window per server (0 reconciles on every event)
func NewActivityBridge(namespace string, debounce time.Duration) *ActivityBridge {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &ActivityBridge{
		namespace: namespace,
		debounce:  debounce,
		pending:   make(map[string]*time.Timer),
	}
}

// Start subscribes to the bridge's activity stream and begins emitting change
// events. The bridge must be registered with the api layer before Start.
func (b *ActivityBridge) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	bridge := api.GetBridge()
	if bridge == nil {
		return fmt.Errorf("bridge handler not registered")
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}

	b.ctx, b.cancelFunc = context.WithCancel(ctx)
	b.changeChan = changes
	b.running = true
	b.mu.Unlock()

	events := bridge.SubscribeActivity()

	b.wg.Add(1)
	go b.processEvents(events)

	logging.Info("ActivityBridge", "Started bridging session activity to reconciliation")
	return nil
}

// processEvents consumes bridge activity events until the context ends.
func (b *ActivityBridge) processEvents(events <-chan api.ActivityEvent) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				logging.Warn("ActivityBridge", "Activity channel closed, stopping")
				return
			}
			b.handleEvent(event)
		}
	}
}

// handleEvent arms the debounce timer for the event's server. Events landing
// while a timer is armed are coalesced into its firing.
func (b *ActivityBridge) handleEvent(event api.ActivityEvent) {
	key := event.ServerKey
	if key == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	if _, armed := b.pending[key]; armed {
		return
	}

	b.pending[key] = time.AfterFunc(b.debounce, func() {
		b.fire(key)
	})
}

// fire emits the coalesced change event for a server key.
func (b *ActivityBridge) fire(key string) {
	b.mu.Lock()
	delete(b.pending, key)
	running := b.running
	changeChan := b.changeChan
	b.mu.Unlock()

	if !running || changeChan == nil {
		return
	}

	namespace, name, found := strings.Cut(key, "/")
	if !found {
		namespace, name = b.namespace, key
	}

	event := ChangeEvent{
		Type:      ResourceTypeMCPServer,
		Name:      name,
		Namespace: namespace,
		Operation: OperationUpdate,
		Timestamp: time.Now(),
		Source:    SourceBridge,
	}

	select {
	case changeChan <- event:
		logging.Debug("ActivityBridge", "Emitted change event for %s after session activity", key)
	default:
		// The resync sweep picks the server up later.
		logging.Warn("ActivityBridge", "Change event channel full, dropping activity event for %s", key)
	}
}

// Stop gracefully shuts down the detector and cancels armed timers.
func (b *ActivityBridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}

	b.running = false
	cancelFunc := b.cancelFunc
	for key, timer := range b.pending {
		timer.Stop()
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if cancelFunc != nil {
		cancelFunc()
	}

	// Wait for the event processing goroutine to finish
	b.wg.Wait()

	logging.Info("ActivityBridge", "Stopped activity bridge")
	return nil
}

// GetSource returns the change source type.
func (b *ActivityBridge) GetSource() ChangeSource {
	return SourceBridge
}
