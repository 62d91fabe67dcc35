package bridge

import (
	"corral/internal/api"
)

// Adapter exposes the bridge through the api.BridgeHandler interface so
// the controller can read activity without importing this package.
type Adapter struct {
	server *Server
}

// NewAdapter creates an adapter around a bridge server.
func NewAdapter(server *Server) *Adapter {
	return &Adapter{server: server}
}

// Register makes the bridge available via the api service locator.
func (a *Adapter) Register() {
	api.RegisterBridge(a)
}

// Activity implements api.BridgeHandler.
func (a *Adapter) Activity(serverKey string) (api.ActivitySnapshot, bool) {
	return a.server.Activity().Snapshot(serverKey)
}

// CloseServerSessions implements api.BridgeHandler. The tracker entry is
// dropped too, so a later workload for the same key starts from zero.
func (a *Adapter) CloseServerSessions(serverKey string, reason string) int {
	closed := a.server.Registry().CloseForServer(serverKey, reason)
	a.server.Activity().Forget(serverKey)
	return closed
}

// SessionCount implements api.BridgeHandler.
func (a *Adapter) SessionCount(serverKey string) int {
	return a.server.Registry().CountForServer(serverKey)
}

// SubscribeActivity implements api.BridgeHandler.
func (a *Adapter) SubscribeActivity() <-chan api.ActivityEvent {
	return a.server.Activity().Events()
}
