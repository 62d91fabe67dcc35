// Package controller provides the reconciliation system for corral resources.
//
// # Overview
//
// The controller package implements automatic change detection and
// reconciliation for MCPServerPool and MCPServer records. Each pass converges
// the substrate (the per-instance workloads) and the record status toward the
// declared spec, whether the records live in a Kubernetes cluster or in the
// in-memory store.
//
// # Architecture
//
// The reconciliation system consists of several key components:
//
//   - Manager: Central coordinator that owns the queue and the workers
//   - Reconciler: Interface for resource-specific reconciliation logic
//   - ChangeDetector: Interface for feeding change events into the queue
//   - ServerReconciler: Converges one MCPServer per pass via the lifecycle machine
//   - PoolReconciler: Recounts pool membership, evicts and wakes members
//
// Two change detectors feed the queue:
//
//   - KubernetesDetector: Uses informers on the corral CRDs
//   - ActivityBridge: Debounces bridge traffic into per-server change events
//
// # Usage
//
// The controller is wired by the application bootstrap. It starts watching
// for changes when the application starts and stops when it shuts down.
//
// Example usage:
//
//	manager := controller.NewManager(config)
//	manager.RegisterReconciler(controller.NewServerReconciler(store, workloads, 0))
//	manager.RegisterReconciler(controller.NewPoolReconciler(store, 0))
//	if err := manager.Start(ctx); err != nil {
//	    return fmt.Errorf("failed to start reconciliation: %w", err)
//	}
//	defer manager.Stop()
//
// # Error Handling
//
// Reconcile errors are sanitized before they land in logs or status fields,
// retried with exponential backoff and jitter, and marked failed once the
// retry budget is spent. Conflicting writes are retried against a freshly
// fetched record so concurrent status updates never wedge a resource.
//
// # Performance Considerations
//
// Multiple rapid changes to the same resource are coalesced in the queue, a
// resource is never reconciled by two workers at once, and bridge activity is
// debounced before it reaches the queue. Settled resources are still swept on
// a periodic resync so missed events heal themselves.
package controller
