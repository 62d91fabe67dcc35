package controller

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"corral/internal/api"
	"corral/internal/lifecycle"
	"corral/internal/store"
	"corral/internal/workload"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

// transitionalRequeueInterval drives convergence while a workload is coming
// up or going down. Settled phases wait for the resync sweep instead.
const transitionalRequeueInterval = 5 * time.Second

// serverConditionReady is the condition type recorded on server records.
const serverConditionReady = "Ready"

// ServerReconciler converges MCPServer records.
//
// Each pass gathers the record, its pool, the observed workload state and the
// bridge's live activity counters, asks the lifecycle machine for a decision,
// applies the substrate action and writes the resulting status back with
// conflict retry.
type ServerReconciler struct {
	// store provides access to the declarative records
	store store.Store

	// workload creates, probes and removes backing workloads
	workload workload.Manager

	// resync is the requeue interval for settled records
	resync time.Duration
}

// NewServerReconciler creates a new MCPServer reconciler.
func NewServerReconciler(st store.Store, workloads workload.Manager, resync time.Duration) *ServerReconciler {
	if resync <= 0 {
		resync = DefaultResyncInterval
	}
	return &ServerReconciler{
		store:    st,
		workload: workloads,
		resync:   resync,
	}
}

// GetResourceType returns the resource type this reconciler handles.
func (r *ServerReconciler) GetResourceType() ResourceType {
	return ResourceTypeMCPServer
}

// serverKey is the bridge-side identifier for a server record.
func serverKey(server *corralv1alpha1.MCPServer) string {
	return server.Namespace + "/" + server.Name
}

// closeServerSessions closes any bridge sessions bound to a server key.
// A nil bridge handler means the bridge is not wired yet; nothing to close.
func closeServerSessions(key, reason string) {
	bridge := api.GetBridge()
	if bridge == nil {
		return
	}
	if n := bridge.CloseServerSessions(key, reason); n > 0 {
		logging.Info("ServerReconciler", "Closed %d bridge sessions for %s: %s", n, key, reason)
	}
}

// bridgeActivity returns the live activity snapshot for a server key.
func bridgeActivity(key string) (api.ActivitySnapshot, bool) {
	bridge := api.GetBridge()
	if bridge == nil {
		return api.ActivitySnapshot{}, false
	}
	return bridge.Activity(key)
}

// Reconcile processes a single MCPServer reconciliation request.
func (r *ServerReconciler) Reconcile(ctx context.Context, req ReconcileRequest) ReconcileResult {
	namespace := req.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	server, err := r.store.GetServer(ctx, req.Name, namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return r.reconcileVanished(ctx, req.Name, namespace)
		}
		return ReconcileResult{Error: fmt.Errorf("fetching server %s/%s: %w", namespace, req.Name, err)}
	}

	if server.DeletionTimestamp != nil {
		return r.finalize(ctx, server)
	}

	pool, err := r.store.GetPool(ctx, server.Spec.PoolRef, namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return r.reconcileOrphaned(ctx, server)
		}
		return ReconcileResult{Error: fmt.Errorf("fetching pool %q for server %s/%s: %w", server.Spec.PoolRef, namespace, req.Name, err)}
	}

	observed, err := r.workload.Status(ctx, server)
	if err != nil {
		return ReconcileResult{Error: fmt.Errorf("probing workload for %s/%s: %w", namespace, req.Name, err)}
	}

	activity, tracked := bridgeActivity(serverKey(server))

	capacityFree, err := r.capacityFree(ctx, server, pool)
	if err != nil {
		return ReconcileResult{Error: err}
	}

	decision := lifecycle.Decide(lifecycle.Input{
		Server:       server,
		Pool:         pool,
		Workload:     observed.State,
		Activity:     activity,
		CapacityFree: capacityFree,
		Now:          time.Now(),
	})

	endpoint, err := r.applyAction(ctx, server, pool, decision)
	if err != nil {
		// Surface the failure on the record before handing the error to the
		// retry machinery.
		r.recordActionFailure(ctx, server, err)
		return ReconcileResult{Error: err}
	}

	if decision.Action == lifecycle.ActionDelete {
		// Record reaped; its deletion lands on the vanished path.
		return ReconcileResult{}
	}

	if err := r.writeStatus(ctx, server, decision, observed, activity, tracked, endpoint); err != nil {
		return ReconcileResult{Error: err}
	}

	return ReconcileResult{RequeueAfter: r.requeueAfter(decision.Phase)}
}

// capacityFree reports whether the pool can admit this server. The gate only
// matters for records about to request admission; bound phases already hold
// their slot. Pending records themselves count as not Active, so the list
// never counts the candidate against its own admission.
func (r *ServerReconciler) capacityFree(ctx context.Context, server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) (bool, error) {
	phase := server.Status.Phase
	if phase != "" && phase != corralv1alpha1.PhasePending {
		return true, nil
	}
	if server.Spec.Stop {
		return true, nil
	}

	members, err := r.store.ListServersInPool(ctx, pool.Name, pool.Namespace)
	if err != nil {
		return false, fmt.Errorf("listing members of pool %s: %w", pool.Name, err)
	}
	return lifecycle.CapacityUsed(members) < int(pool.Spec.MaxServers), nil
}

// applyAction performs the substrate operation the decision calls for and
// returns the workload endpoint when one was ensured.
func (r *ServerReconciler) applyAction(ctx context.Context, server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool, decision lifecycle.Decision) (string, error) {
	switch decision.Action {
	case lifecycle.ActionEnsure:
		// The finalizer goes on before the first workload object exists, so
		// a racing delete can never strand one.
		if controllerutil.AddFinalizer(server, ServerFinalizer) {
			if err := r.store.UpdateServer(ctx, server); err != nil {
				return "", fmt.Errorf("adding finalizer to %s: %w", serverKey(server), err)
			}
		}
		endpoint, err := r.workload.Ensure(ctx, server, pool)
		if err != nil {
			return "", fmt.Errorf("ensuring workload for %s: %w", serverKey(server), err)
		}
		return endpoint, nil

	case lifecycle.ActionTeardown:
		closeServerSessions(serverKey(server), "server stopping")
		if err := r.workload.Teardown(ctx, server); err != nil {
			return "", fmt.Errorf("tearing down workload for %s: %w", serverKey(server), err)
		}
		return "", nil

	case lifecycle.ActionDelete:
		logging.Info("ServerReconciler", "Reaping stopped server %s after retention", serverKey(server))
		if err := r.store.DeleteServer(ctx, server.Name, server.Namespace); err != nil && !apierrors.IsNotFound(err) {
			return "", fmt.Errorf("deleting server %s: %w", serverKey(server), err)
		}
		return "", nil
	}

	return "", nil
}

// recordActionFailure stores a sanitized failure on the record so operators
// see it without reading controller logs. Best effort, the retry machinery
// owns the authoritative error handling.
func (r *ServerReconciler) recordActionFailure(ctx context.Context, server *corralv1alpha1.MCPServer, actionErr error) {
	msg := SanitizeErrorMessage(actionErr.Error())
	err := syncServerStatus(ctx, r.store, server.Name, server.Namespace, func(current *corralv1alpha1.MCPServer) {
		current.Status.LastError = msg
	})
	if err != nil {
		logging.Debug("ServerReconciler", "Could not record failure on %s: %v", serverKey(server), err)
	}
}

// writeStatus computes the record's new status from the decision and the
// observations, and writes it back with conflict retry.
func (r *ServerReconciler) writeStatus(ctx context.Context, server *corralv1alpha1.MCPServer, decision lifecycle.Decision, observed workload.Status, activity api.ActivitySnapshot, tracked bool, ensuredEndpoint string) error {
	oldPhase := server.Status.Phase
	if oldPhase == "" {
		oldPhase = corralv1alpha1.PhasePending
	}
	newPhase := decision.Phase
	now := metav1.Now()

	// Endpoint follows the bound workload.
	endpoint := observed.Endpoint
	if ensuredEndpoint != "" {
		endpoint = ensuredEndpoint
	}

	// Fold live bridge counters into the recorded ones. The bridge is
	// authoritative while it tracks the key; a fresh controller keeps the
	// recorded history until traffic arrives.
	totalRequests := server.Status.TotalRequests
	connections := server.Status.CurrentConnections
	if tracked {
		totalRequests = activity.TotalRequests
		connections = activity.CurrentConnections
	}

	lastRequestAt := server.Status.LastRequestAt
	if last := lifecycle.LastActivity(server, activity); !last.IsZero() {
		lastRequestAt = &metav1.Time{Time: last}
	}

	startedAt := server.Status.StartedAt
	stoppedAt := server.Status.StoppedAt
	lastError := server.Status.LastError

	if observed.State == lifecycle.WorkloadFailed && observed.Reason != "" {
		lastError = SanitizeErrorMessage(observed.Reason)
	}

	if newPhase != oldPhase {
		switch newPhase {
		case corralv1alpha1.PhaseRunning:
			startedAt = &now
			lastError = ""
		case corralv1alpha1.PhaseStopped:
			stoppedAt = &now
		case corralv1alpha1.PhasePending:
			// Re-admission after Stopped or Failed starts a clean
			// incarnation. LastRequestAt survives for eviction ordering.
			lastError = ""
			totalRequests = 0
		}
	}

	if !newPhase.Active() {
		endpoint = ""
		connections = 0
	}

	condition := metav1.Condition{
		Type:               serverConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             string(newPhase),
		Message:            decision.Reason,
		ObservedGeneration: server.Generation,
	}
	if newPhase == corralv1alpha1.PhaseRunning || newPhase == corralv1alpha1.PhaseIdle {
		condition.Status = metav1.ConditionTrue
	}

	generation := server.Generation
	err := syncServerStatus(ctx, r.store, server.Name, server.Namespace, func(current *corralv1alpha1.MCPServer) {
		current.Status.Phase = newPhase
		current.Status.ObservedGeneration = generation
		current.Status.Endpoint = endpoint
		current.Status.TotalRequests = totalRequests
		current.Status.CurrentConnections = connections
		current.Status.LastRequestAt = lastRequestAt
		current.Status.StartedAt = startedAt
		current.Status.StoppedAt = stoppedAt
		current.Status.LastError = lastError
		meta.SetStatusCondition(&current.Status.Conditions, condition)
	})
	if err != nil {
		return fmt.Errorf("syncing status of %s: %w", serverKey(server), err)
	}

	if newPhase != oldPhase {
		r.emitPhaseEvent(ctx, server, oldPhase, newPhase, decision.Reason)
		// Capacity may have shifted; let the pool recount.
		api.TriggerReconcile(string(ResourceTypeMCPServerPool), server.Spec.PoolRef, server.Namespace)
		logging.Info("ServerReconciler", "Server %s: %s -> %s (%s)", serverKey(server), oldPhase, newPhase, decision.Reason)
	}

	return nil
}

// emitPhaseEvent records a Kubernetes event for a phase transition.
func (r *ServerReconciler) emitPhaseEvent(ctx context.Context, server *corralv1alpha1.MCPServer, from, to corralv1alpha1.ServerPhase, reason string) {
	eventType := corev1.EventTypeNormal
	if to == corralv1alpha1.PhaseFailed {
		eventType = corev1.EventTypeWarning
	}

	message := fmt.Sprintf("%s -> %s", from, to)
	if reason != "" {
		message = fmt.Sprintf("%s -> %s: %s", from, to, reason)
	}

	if err := r.store.CreateEvent(ctx, server, string(to), message, eventType); err != nil {
		logging.Debug("ServerReconciler", "Failed to record event for %s: %v", serverKey(server), err)
	}
}

// requeueAfter picks the follow-up interval for a settled pass.
func (r *ServerReconciler) requeueAfter(phase corralv1alpha1.ServerPhase) time.Duration {
	switch phase {
	case corralv1alpha1.PhaseStarting, corralv1alpha1.PhaseStopping:
		return transitionalRequeueInterval
	default:
		return r.resync
	}
}

// reconcileVanished cleans up after a record that no longer exists: leftover
// workload objects are removed by label and bridge sessions closed.
func (r *ServerReconciler) reconcileVanished(ctx context.Context, name, namespace string) ReconcileResult {
	key := namespace + "/" + name
	closeServerSessions(key, "server deleted")

	ghost := &corralv1alpha1.MCPServer{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	if err := r.workload.Teardown(ctx, ghost); err != nil {
		return ReconcileResult{Error: fmt.Errorf("tearing down workload for deleted server %s: %w", key, err)}
	}

	logging.Debug("ServerReconciler", "Server %s is gone, leftovers cleaned", key)
	return ReconcileResult{}
}

// finalize drives a deletion-marked record: teardown first, then release the
// finalizer so the API server can drop the object.
func (r *ServerReconciler) finalize(ctx context.Context, server *corralv1alpha1.MCPServer) ReconcileResult {
	key := serverKey(server)
	closeServerSessions(key, "server deleted")

	if !controllerutil.ContainsFinalizer(server, ServerFinalizer) {
		return ReconcileResult{}
	}

	observed, err := r.workload.Status(ctx, server)
	if err != nil {
		return ReconcileResult{Error: fmt.Errorf("probing workload for deleted server %s: %w", key, err)}
	}

	if observed.State != lifecycle.WorkloadMissing {
		if err := r.workload.Teardown(ctx, server); err != nil {
			return ReconcileResult{Error: fmt.Errorf("tearing down workload for deleted server %s: %w", key, err)}
		}
		return ReconcileResult{RequeueAfter: transitionalRequeueInterval}
	}

	err = retry.OnError(statusSyncRetryBackoff, apierrors.IsConflict, func() error {
		current, err := r.store.GetServer(ctx, server.Name, server.Namespace)
		if err != nil {
			return err
		}
		if !controllerutil.RemoveFinalizer(current, ServerFinalizer) {
			return nil
		}
		return r.store.UpdateServer(ctx, current)
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return ReconcileResult{Error: fmt.Errorf("removing finalizer from %s: %w", key, err)}
	}

	logging.Info("ServerReconciler", "Released deleted server %s", key)
	return ReconcileResult{}
}

// reconcileOrphaned handles a server whose pool is gone. The workload is torn
// down and the record parked in Failed; recreating the pool does not revive
// it, a spec change or a fresh start request does.
func (r *ServerReconciler) reconcileOrphaned(ctx context.Context, server *corralv1alpha1.MCPServer) ReconcileResult {
	key := serverKey(server)

	observed, err := r.workload.Status(ctx, server)
	if err != nil {
		return ReconcileResult{Error: fmt.Errorf("probing workload for orphaned server %s: %w", key, err)}
	}
	if observed.State != lifecycle.WorkloadMissing {
		closeServerSessions(key, "pool deleted")
		if err := r.workload.Teardown(ctx, server); err != nil {
			return ReconcileResult{Error: fmt.Errorf("tearing down workload for orphaned server %s: %w", key, err)}
		}
	}

	reason := fmt.Sprintf("pool %q not found", server.Spec.PoolRef)
	if server.Status.Phase != corralv1alpha1.PhaseFailed {
		r.emitPhaseEvent(ctx, server, server.Status.Phase, corralv1alpha1.PhaseFailed, reason)
	}

	generation := server.Generation
	err = syncServerStatus(ctx, r.store, server.Name, server.Namespace, func(current *corralv1alpha1.MCPServer) {
		current.Status.Phase = corralv1alpha1.PhaseFailed
		current.Status.ObservedGeneration = generation
		current.Status.Endpoint = ""
		current.Status.CurrentConnections = 0
		current.Status.LastError = reason
		meta.SetStatusCondition(&current.Status.Conditions, metav1.Condition{
			Type:               serverConditionReady,
			Status:             metav1.ConditionFalse,
			Reason:             string(corralv1alpha1.PhaseFailed),
			Message:            reason,
			ObservedGeneration: generation,
		})
	})
	if err != nil {
		return ReconcileResult{Error: err}
	}

	return ReconcileResult{RequeueAfter: r.resync}
}
