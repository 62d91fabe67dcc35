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

	"corral/internal/api"
	"corral/internal/lifecycle"
	"corral/internal/store"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

// poolConditionCapacity is the condition type recorded on pool records.
const poolConditionCapacity = "HasCapacity"

// PoolReconciler converges MCPServerPool records.
//
// A pass recounts the pool's members, evicts the longest-idle instances when
// demand outgrows the cap, wakes members waiting on capacity and writes the
// aggregate counters back. A deleted pool nudges its members so they notice
// the orphaning without waiting for the resync sweep.
type PoolReconciler struct {
	store  store.Store
	resync time.Duration
}

// NewPoolReconciler creates a new MCPServerPool reconciler.
func NewPoolReconciler(st store.Store, resync time.Duration) *PoolReconciler {
	if resync <= 0 {
		resync = DefaultResyncInterval
	}
	return &PoolReconciler{store: st, resync: resync}
}

// GetResourceType returns the resource type this reconciler handles.
func (r *PoolReconciler) GetResourceType() ResourceType {
	return ResourceTypeMCPServerPool
}

// Reconcile processes a single MCPServerPool reconciliation request.
func (r *PoolReconciler) Reconcile(ctx context.Context, req ReconcileRequest) ReconcileResult {
	namespace := req.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	pool, err := r.store.GetPool(ctx, req.Name, namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return r.reconcileVanished(ctx, req.Name, namespace)
		}
		return ReconcileResult{Error: fmt.Errorf("fetching pool %s/%s: %w", namespace, req.Name, err)}
	}

	members, err := r.store.ListServersInPool(ctx, pool.Name, namespace)
	if err != nil {
		return ReconcileResult{Error: fmt.Errorf("listing members of pool %s: %w", pool.Name, err)}
	}

	bound := lifecycle.CapacityUsed(members)
	var idle, pending int
	for i := range members {
		switch members[i].Status.Phase {
		case corralv1alpha1.PhaseIdle:
			idle++
		case "", corralv1alpha1.PhasePending:
			pending++
		}
	}

	if err := r.evictOverflow(ctx, pool, members, bound, pending); err != nil {
		return ReconcileResult{Error: err}
	}

	// Members waiting on capacity get a nudge when room has opened up. Their
	// own pass re-checks the gate, so a spurious wake is harmless.
	if pending > 0 && bound < int(pool.Spec.MaxServers) {
		for i := range members {
			m := &members[i]
			switch m.Status.Phase {
			case "", corralv1alpha1.PhasePending:
				api.TriggerReconcile(string(ResourceTypeMCPServer), m.Name, m.Namespace)
			}
		}
	}

	phase := corralv1alpha1.PoolReady
	if bound >= int(pool.Spec.MaxServers) {
		phase = corralv1alpha1.PoolSaturated
	}

	if err := r.writeStatus(ctx, pool, phase, bound, idle, len(members)); err != nil {
		return ReconcileResult{Error: err}
	}

	return ReconcileResult{RequeueAfter: r.resync}
}

// evictOverflow stops the longest-idle members when bound instances exceed
// the cap, or when admitted instances wait while every slot is held. One
// eviction per waiting instance; the freed slots admit them on their next
// pass.
func (r *PoolReconciler) evictOverflow(ctx context.Context, pool *corralv1alpha1.MCPServerPool, members []corralv1alpha1.MCPServer, bound, pending int) error {
	need := bound - int(pool.Spec.MaxServers)
	if need <= 0 && pending > 0 && bound >= int(pool.Spec.MaxServers) {
		need = pending
	}
	if need <= 0 {
		return nil
	}

	victims := lifecycle.PickEvictable(members, need)
	for i := range victims {
		victim := &victims[i]
		if err := r.evictServer(ctx, victim.Name, victim.Namespace); err != nil {
			return fmt.Errorf("evicting server %s/%s: %w", victim.Namespace, victim.Name, err)
		}

		message := fmt.Sprintf("evicted from pool %s to free capacity", pool.Name)
		if err := r.store.CreateEvent(ctx, victim, "Evicted", message, corev1.EventTypeNormal); err != nil {
			logging.Debug("PoolReconciler", "Failed to record eviction event for %s/%s: %v", victim.Namespace, victim.Name, err)
		}

		logging.Info("PoolReconciler", "Evicting idle server %s/%s from pool %s", victim.Namespace, victim.Name, pool.Name)
		api.TriggerReconcile(string(ResourceTypeMCPServer), victim.Name, victim.Namespace)
	}

	return nil
}

// evictServer marks a server for stopping, retrying on write conflicts
// against a freshly fetched record.
func (r *PoolReconciler) evictServer(ctx context.Context, name, namespace string) error {
	return retry.OnError(statusSyncRetryBackoff, apierrors.IsConflict, func() error {
		current, err := r.store.GetServer(ctx, name, namespace)
		if err != nil {
			return err
		}
		if current.Spec.Stop {
			return nil
		}
		current.Spec.Stop = true
		return r.store.UpdateServer(ctx, current)
	})
}

// writeStatus records the aggregate counters, skipping the write when
// nothing changed. The skip matters in Kubernetes mode: an unconditional
// timestamp bump would emit a fresh informer event on every pass and keep
// the pool requeueing itself.
func (r *PoolReconciler) writeStatus(ctx context.Context, pool *corralv1alpha1.MCPServerPool, phase corralv1alpha1.PoolPhase, bound, idle, total int) error {
	status := metav1.ConditionTrue
	reason := "CapacityAvailable"
	if phase == corralv1alpha1.PoolSaturated {
		status = metav1.ConditionFalse
		reason = "Saturated"
	}
	condition := metav1.Condition{
		Type:               poolConditionCapacity,
		Status:             status,
		Reason:             reason,
		Message:            fmt.Sprintf("%d of %d slots in use", bound, pool.Spec.MaxServers),
		ObservedGeneration: pool.Generation,
	}

	existing := meta.FindStatusCondition(pool.Status.Conditions, poolConditionCapacity)
	unchanged := existing != nil &&
		existing.Status == condition.Status &&
		existing.ObservedGeneration == pool.Generation &&
		pool.Status.Phase == phase &&
		pool.Status.ActiveServers == int32(bound) &&
		pool.Status.IdleServers == int32(idle) &&
		pool.Status.TotalServers == int32(total) &&
		pool.Status.LastError == "" &&
		pool.Status.LastReconciled != nil
	if unchanged {
		return nil
	}

	now := metav1.Now()
	err := syncPoolStatus(ctx, r.store, pool.Name, pool.Namespace, func(current *corralv1alpha1.MCPServerPool) {
		current.Status.Phase = phase
		current.Status.ActiveServers = int32(bound)
		current.Status.IdleServers = int32(idle)
		current.Status.TotalServers = int32(total)
		current.Status.LastReconciled = &now
		current.Status.LastError = ""
		meta.SetStatusCondition(&current.Status.Conditions, condition)
	})
	if err != nil {
		return fmt.Errorf("syncing status of pool %s/%s: %w", pool.Namespace, pool.Name, err)
	}

	logging.Debug("PoolReconciler", "Pool %s/%s: %s, %d/%d bound, %d idle, %d total", pool.Namespace, pool.Name, phase, bound, pool.Spec.MaxServers, idle, total)
	return nil
}

// reconcileVanished nudges the members of a deleted pool so each one parks
// itself as orphaned.
func (r *PoolReconciler) reconcileVanished(ctx context.Context, name, namespace string) ReconcileResult {
	members, err := r.store.ListServersInPool(ctx, name, namespace)
	if err != nil {
		return ReconcileResult{Error: fmt.Errorf("listing members of deleted pool %s/%s: %w", namespace, name, err)}
	}

	for i := range members {
		api.TriggerReconcile(string(ResourceTypeMCPServer), members[i].Name, members[i].Namespace)
	}

	logging.Debug("PoolReconciler", "Pool %s/%s is gone, nudged %d members", namespace, name, len(members))
	return ReconcileResult{}
}
