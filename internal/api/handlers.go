package api

import (
	"sync"

	"corral/pkg/logging"
)

// Handler registry variables store the registered implementations.
// These variables are protected by handlerMutex for thread-safe access.
var (
	poolManagerHandler      PoolManagerHandler
	reconcileManagerHandler ReconcileManagerHandler
	bridgeHandler           BridgeHandler

	// handlerMutex protects all handler registry operations for thread-safe registration and access.
	handlerMutex sync.RWMutex
)

// RegisterPoolManager registers the pool manager handler implementation.
// This handler provides pool and server instance operations backed by the
// resource store and the reconciliation controller.
//
// The registration is thread-safe and should be called during system
// initialization. Only one pool manager handler can be registered at a time;
// subsequent registrations will replace the previous handler.
//
// Example:
//
//	adapter := controller.NewPoolAPIAdapter(store, manager, namespace)
//	adapter.Register()
func RegisterPoolManager(h PoolManagerHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	logging.Debug("API", "Registering pool manager handler: %v", h != nil)
	poolManagerHandler = h
}

// GetPoolManager returns the registered pool manager handler.
//
// Returns nil if no handler has been registered yet. Callers should always
// check for nil before using the returned handler.
func GetPoolManager() PoolManagerHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return poolManagerHandler
}

// RegisterReconcileManager registers the reconcile manager handler
// implementation. This handler lets other components trigger reconciliation
// and inspect queue state without importing the controller package.
//
// The registration is thread-safe and should be called during system
// initialization. Only one reconcile manager handler can be registered at a
// time; subsequent registrations will replace the previous handler.
func RegisterReconcileManager(h ReconcileManagerHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	logging.Debug("API", "Registering reconcile manager handler: %v", h != nil)
	reconcileManagerHandler = h
}

// GetReconcileManager returns the registered reconcile manager handler.
//
// Returns nil if no handler has been registered yet. Callers should always
// check for nil before using the returned handler.
func GetReconcileManager() ReconcileManagerHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return reconcileManagerHandler
}

// RegisterBridge registers the bridge handler implementation.
// This handler exposes session activity and session shutdown to the
// controller.
//
// The registration is thread-safe and should be called during system
// initialization. Only one bridge handler can be registered at a time;
// subsequent registrations will replace the previous handler.
func RegisterBridge(h BridgeHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	logging.Debug("API", "Registering bridge handler: %v", h != nil)
	bridgeHandler = h
}

// GetBridge returns the registered bridge handler.
//
// Returns nil if no handler has been registered yet. Callers should always
// check for nil before using the returned handler.
func GetBridge() BridgeHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return bridgeHandler
}

// TriggerReconcile is a convenience function that forwards to the registered
// reconcile manager, if any. Components use it to nudge the controller after
// observing activity without caring whether the controller is wired yet.
func TriggerReconcile(resourceType, name, namespace string) {
	handler := GetReconcileManager()
	if handler == nil {
		logging.Debug("API", "Reconcile trigger for %s/%s dropped, no handler registered", resourceType, name)
		return
	}
	handler.TriggerReconcile(resourceType, name, namespace)
}
