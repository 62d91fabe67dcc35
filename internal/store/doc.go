// Package store provides a unified store abstraction for accessing corral
// resources both in-cluster (Kubernetes API) and in-process (memory).
//
// # Overview
//
// The store package lets the controller and the transport bridge operate
// against whichever substrate is available:
//
// - **In-Cluster**: Native Kubernetes API access using controller-runtime
// - **Offline**: In-memory storage for local development and tests
//
// # Architecture
//
// The package implements a facade pattern with automatic environment detection:
//
//	┌─────────────────┐
//	│      Store      │  ← Unified Interface
//	│   (Interface)   │
//	└─────────────────┘
//	         │
//	    ┌────┴────┐
//	    │ Factory │  ← Environment Detection
//	    └────┬────┘
//	         │
//	   ┌─────┴─────┐
//	   │           │
//	┌──▼──┐    ┌───▼──┐
//	│ K8s │    │ Mem  │  ← Backend Implementations
//	│     │    │      │
//	└─────┘    └──────┘
//
// # Usage Examples
//
// ## Basic Usage (Automatic Detection)
//
//	st, err := store.NewStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	pools, err := st.ListPools(ctx, "default")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// ## Explicit Configuration
//
//	cfg := &store.StoreConfig{
//	    Offline: true,
//	}
//	st, err := store.NewStoreWithConfig(cfg)
//
// # Environment Detection
//
// The store automatically detects the execution environment:
//
// 1. **Kubernetes Detection**: Uses controller-runtime's standard config detection
//   - In-cluster service account credentials
//   - kubeconfig file (~/.kube/config)
//   - Environment variables (KUBECONFIG)
//
// 2. **Memory Fallback**: Used when Kubernetes is not available or the
//     corral CRDs are not installed
//
// # Interface Compatibility
//
// Store extends controller-runtime's client.Client interface, ensuring
// compatibility with the informer-based change detection in the controller
// while adding corral-specific convenience methods.
//
// # Error Handling
//
// The store provides consistent error handling across both backends:
//
//	server, err := st.GetServer(ctx, "server-name", "default")
//	if err != nil {
//	    if errors.IsNotFound(err) {
//	        // Handle not found consistently across backends
//	    }
//	    // Handle other errors
//	}
//
// # Thread Safety
//
// All store implementations are thread-safe and can be used concurrently
// from multiple goroutines.
package store
