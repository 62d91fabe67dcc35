package api

import (
	"context"
	"time"
)

// PoolInfo is the API view of an MCPServerPool record.
type PoolInfo struct {
	Name             string            `json:"name"`
	Namespace        string            `json:"namespace"`
	Transport        string            `json:"transport"`
	MaxServers       int32             `json:"maxServers"`
	IdleTimeout      time.Duration     `json:"idleTimeout"`
	StoppedRetention time.Duration     `json:"stoppedRetention"`
	Image            string            `json:"image"`
	Phase            string            `json:"phase,omitempty"`
	ActiveServers    int32             `json:"activeServers"`
	IdleServers      int32             `json:"idleServers"`
	TotalServers     int32             `json:"totalServers"`
	Env              map[string]string `json:"env,omitempty"`
	Description      string            `json:"description,omitempty"`
}

// ServerInfo is the API view of an MCPServer record.
type ServerInfo struct {
	Name               string     `json:"name"`
	Namespace          string     `json:"namespace"`
	Pool               string     `json:"pool"`
	Transport          string     `json:"transport"`
	Phase              string     `json:"phase"`
	Endpoint           string     `json:"endpoint,omitempty"`
	TotalRequests      int64      `json:"totalRequests"`
	CurrentConnections int32      `json:"currentConnections"`
	LastRequestAt      *time.Time `json:"lastRequestAt,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
}

// CreatePoolRequest carries the arguments for creating a new pool.
type CreatePoolRequest struct {
	// Name of the pool. Must be a valid Kubernetes object name.
	Name string `json:"name"`

	// Transport spoken by instances of this pool: stdio, sse or
	// streamable-http. Defaults to streamable-http.
	Transport string `json:"transport,omitempty"`

	// MaxServers caps concurrently bound instances. Defaults to 5.
	MaxServers int32 `json:"maxServers,omitempty"`

	// IdleTimeout before an instance counts as idle. Defaults to 5m.
	IdleTimeout time.Duration `json:"idleTimeout,omitempty"`

	// StoppedRetention before a stopped record is reaped. Defaults to 10m.
	StoppedRetention time.Duration `json:"stoppedRetention,omitempty"`

	// Image is the container image instances run. Required.
	Image string `json:"image"`

	// Command and Args override the image entrypoint.
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Env entries set on every instance.
	Env map[string]string `json:"env,omitempty"`

	// Port the server listens on inside the container. Defaults to 8080.
	Port int32 `json:"port,omitempty"`

	// Description of the pool's purpose.
	Description string `json:"description,omitempty"`
}

// ActivitySnapshot is a point-in-time view of a server's bridge activity.
type ActivitySnapshot struct {
	// TotalRequests relayed to the server since its workload came up.
	TotalRequests int64

	// CurrentConnections is the number of open sessions.
	CurrentConnections int32

	// LastRequestAt is the time of the most recent request or session open.
	// Zero when the server has never seen traffic.
	LastRequestAt time.Time
}

// Activity event kinds published by the bridge.
const (
	ActivitySessionOpened = "session-opened"
	ActivitySessionClosed = "session-closed"
	ActivityRequest       = "request"
)

// ActivityEvent signals bridge traffic on a server. The controller
// subscribes to these to reconcile servers whose activity changed, so an
// idle server wakes without waiting for the periodic resync.
type ActivityEvent struct {
	// ServerKey is the namespace/name of the server.
	ServerKey string

	// Kind is one of the Activity* constants.
	Kind string

	// At is when the event happened.
	At time.Time
}

// PoolManagerHandler defines the interface for pool and server instance
// operations. The reconciliation controller package registers the
// implementation.
type PoolManagerHandler interface {
	// CreatePool validates and persists a new pool record.
	CreatePool(ctx context.Context, req CreatePoolRequest) (*PoolInfo, error)

	// ListPools returns all pool records.
	ListPools(ctx context.Context) ([]PoolInfo, error)

	// GetPool returns a single pool record.
	GetPool(ctx context.Context, name string) (*PoolInfo, error)

	// ListServers returns server instances, optionally filtered by pool name.
	ListServers(ctx context.Context, pool string) ([]ServerInfo, error)

	// GetServer returns a single server instance.
	GetServer(ctx context.Context, name string) (*ServerInfo, error)

	// GetPoolFor resolves the pool a server instance belongs to.
	GetPoolFor(ctx context.Context, serverName string) (*PoolInfo, error)

	// StartServer creates a new instance in the pool, or restarts a stopped
	// one. Returns a CapacityError when the pool is full.
	StartServer(ctx context.Context, poolName string) (*ServerInfo, error)

	// StopServer requests a graceful shutdown of an instance. Idempotent.
	StopServer(ctx context.Context, serverName string) error
}

// ReconcileManagerHandler defines the interface for reconciliation control.
// The controller package registers the implementation.
type ReconcileManagerHandler interface {
	// TriggerReconcile enqueues a reconciliation for the named resource.
	TriggerReconcile(resourceType, name, namespace string)

	// IsRunning reports whether the reconcile workers are running.
	IsRunning() bool

	// GetQueueLength returns the current reconciliation queue length.
	GetQueueLength() int
}

// BridgeHandler defines the interface for bridge session management.
// The bridge package registers the implementation.
type BridgeHandler interface {
	// Activity returns the activity snapshot for a server key, and whether the
	// bridge is tracking that server at all.
	Activity(serverKey string) (ActivitySnapshot, bool)

	// CloseServerSessions closes all sessions attached to a server, sending a
	// final error event to each client. Returns the number of closed sessions.
	CloseServerSessions(serverKey string, reason string) int

	// SessionCount returns the number of open sessions for a server key.
	SessionCount(serverKey string) int

	// SubscribeActivity returns the bridge's activity event stream. The same
	// channel is returned on every call; events are dropped rather than
	// blocking the bridge when the subscriber falls behind.
	SubscribeActivity() <-chan ActivityEvent
}
