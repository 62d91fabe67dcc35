package store

import (
	"context"

	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"

	"corral/pkg/logging"
)

// Store is the unified interface for corral's resource records. It abstracts
// the Kubernetes-backed store and the in-memory store behind one surface, so
// the controller, the bridge and the API adapters do not care which mode the
// process runs in.
//
// The interface embeds controller-runtime's client.Client for raw access
// (the workload manager uses it for Pods and Services) and adds typed
// operations for the two corral kinds.
type Store interface {
	// Controller-runtime client interface for basic CRUD operations
	client.Client

	// MCPServerPool operations
	GetPool(ctx context.Context, name, namespace string) (*corralv1alpha1.MCPServerPool, error)
	ListPools(ctx context.Context, namespace string) ([]corralv1alpha1.MCPServerPool, error)
	CreatePool(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error
	UpdatePool(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error
	DeletePool(ctx context.Context, name, namespace string) error

	// MCPServer operations
	GetServer(ctx context.Context, name, namespace string) (*corralv1alpha1.MCPServer, error)
	ListServers(ctx context.Context, namespace string) ([]corralv1alpha1.MCPServer, error)
	ListServersInPool(ctx context.Context, pool, namespace string) ([]corralv1alpha1.MCPServer, error)
	CreateServer(ctx context.Context, server *corralv1alpha1.MCPServer) error
	UpdateServer(ctx context.Context, server *corralv1alpha1.MCPServer) error
	DeleteServer(ctx context.Context, name, namespace string) error

	// Status update operations (use the Status subresource in Kubernetes mode).
	// These methods update only the Status field of the resource.
	UpdatePoolStatus(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error
	UpdateServerStatus(ctx context.Context, server *corralv1alpha1.MCPServer) error

	// Event operations
	CreateEvent(ctx context.Context, obj client.Object, reason, message, eventType string) error
	CreateEventForCRD(ctx context.Context, crdType, name, namespace, reason, message, eventType string) error

	// Utility methods
	IsKubernetesMode() bool
	Close() error
}

// StoreConfig provides optional configuration for store creation.
type StoreConfig struct {
	// KubernetesConfig is an explicit REST config. If nil, standard detection
	// methods are used (kubeconfig, in-cluster config).
	KubernetesConfig *rest.Config

	// Offline forces the in-memory store even when a cluster is reachable.
	Offline bool

	// Debug enables detection logging.
	Debug bool
}

// NewStore creates a new store with automatic environment detection.
//
// The store attempts to use Kubernetes configuration (from kubeconfig,
// in-cluster config, or other standard methods). If Kubernetes is not
// available, or the corral CRDs are not installed, it falls back to the
// in-memory store.
func NewStore() (Store, error) {
	return NewStoreWithConfig(nil)
}

// NewStoreWithConfig creates a new store with optional configuration.
func NewStoreWithConfig(cfg *StoreConfig) (Store, error) {
	if cfg == nil {
		cfg = &StoreConfig{}
	}

	if cfg.Offline {
		logging.Info("Store", "Offline mode requested, using in-memory store")
		return NewMemoryStore(), nil
	}

	if restConfig, err := detectKubernetesConfig(cfg); err == nil && restConfig != nil {
		k8sStore, err := NewKubernetesStore(restConfig)
		if err == nil {
			logging.Info("Store", "Using Kubernetes-backed store")
			return k8sStore, nil
		}
		// Expected when the CRDs are not installed; fall through to memory.
		if cfg.Debug {
			logging.Debug("Store", "Failed to create Kubernetes store: %v, falling back to in-memory store", err)
		}
	}

	logging.Info("Store", "Kubernetes not available, using in-memory store")
	return NewMemoryStore(), nil
}

// detectKubernetesConfig resolves a REST config from the explicit
// configuration or the standard controller-runtime detection chain.
func detectKubernetesConfig(cfg *StoreConfig) (*rest.Config, error) {
	if cfg.KubernetesConfig != nil {
		return cfg.KubernetesConfig, nil
	}
	return ctrl.GetConfig()
}
