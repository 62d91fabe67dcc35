package lifecycle

import (
	"time"

	"corral/internal/api"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// WorkloadState is the observed condition of an instance's backing workload,
// as reported by the workload manager.
type WorkloadState string

const (
	// WorkloadMissing means no backing objects exist for the instance.
	WorkloadMissing WorkloadState = "Missing"

	// WorkloadPending means the backing objects exist but are not ready.
	WorkloadPending WorkloadState = "Pending"

	// WorkloadReady means the backing pod reports Ready and the endpoint is
	// reachable.
	WorkloadReady WorkloadState = "Ready"

	// WorkloadFailed means the backing pod failed or its container terminated.
	WorkloadFailed WorkloadState = "Failed"
)

// Action is the substrate operation the controller must perform to converge
// an instance after a decision.
type Action string

const (
	// ActionNone requires no substrate operation.
	ActionNone Action = "none"

	// ActionEnsure creates or adopts the backing workload. Idempotent.
	ActionEnsure Action = "ensure"

	// ActionTeardown deletes the backing workload and closes bridge sessions.
	ActionTeardown Action = "teardown"

	// ActionDelete removes the instance record itself.
	ActionDelete Action = "delete"
)

// Input carries everything a lifecycle decision depends on. The decision is a
// pure function of this snapshot; the controller gathers it and applies the
// outcome.
type Input struct {
	// Server is the instance record, spec and status.
	Server *corralv1alpha1.MCPServer

	// Pool is the owning pool. May be nil on deletion paths when the pool is
	// already gone.
	Pool *corralv1alpha1.MCPServerPool

	// Workload is the observed state of the backing objects.
	Workload WorkloadState

	// Activity is the bridge's live counter snapshot for this instance.
	Activity api.ActivitySnapshot

	// CapacityFree reports whether the pool has room to admit another
	// instance, measured at decision time.
	CapacityFree bool

	// Now is the decision clock.
	Now time.Time
}

// Decision is the outcome of evaluating an instance: the phase to record and
// the substrate action to take.
type Decision struct {
	Phase  corralv1alpha1.ServerPhase
	Action Action

	// Reason is a short operator-facing cause, recorded on events and
	// conditions when the phase changes.
	Reason string
}

// Decide computes the next phase and required action for an instance.
//
// Precedence: record deletion, then explicit stop, then the per-phase rules.
// Bound phases (Starting, Running, Idle, Stopping) always leave through
// Stopping so the workload is torn down before the record claims Stopped.
func Decide(in Input) Decision {
	server := in.Server
	phase := server.Status.Phase
	if phase == "" {
		phase = corralv1alpha1.PhasePending
	}

	// External deletion wins over everything else.
	if server.DeletionTimestamp != nil {
		if in.Workload != WorkloadMissing {
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown, Reason: "record deleted"}
		}
		return Decision{Phase: corralv1alpha1.PhaseStopped, Action: ActionNone, Reason: "record deleted"}
	}

	// Explicit stop, whether operator-requested or an eviction decision.
	if server.Spec.Stop {
		if in.Workload != WorkloadMissing {
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown, Reason: "stop requested"}
		}
		if phase == corralv1alpha1.PhaseStopped && retentionElapsed(server, in.Pool, in.Now) {
			return Decision{Phase: corralv1alpha1.PhaseStopped, Action: ActionDelete, Reason: "stopped retention elapsed"}
		}
		return Decision{Phase: corralv1alpha1.PhaseStopped, Action: ActionNone, Reason: "stop requested"}
	}

	switch phase {
	case corralv1alpha1.PhasePending:
		if in.Workload != WorkloadMissing {
			// A workload already exists, typically after a controller restart
			// mid-admission. Adopt it rather than re-checking capacity.
			return Decision{Phase: corralv1alpha1.PhaseStarting, Action: ActionEnsure, Reason: "adopting existing workload"}
		}
		if !in.CapacityFree {
			return Decision{Phase: corralv1alpha1.PhasePending, Action: ActionNone, Reason: "capacity exceeded"}
		}
		return Decision{Phase: corralv1alpha1.PhaseStarting, Action: ActionEnsure, Reason: "admitted"}

	case corralv1alpha1.PhaseStarting:
		switch in.Workload {
		case WorkloadReady:
			return Decision{Phase: corralv1alpha1.PhaseRunning, Action: ActionNone, Reason: "workload ready"}
		case WorkloadFailed:
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown, Reason: "workload failed"}
		default:
			// Missing or Pending: keep converging, Ensure is idempotent.
			return Decision{Phase: corralv1alpha1.PhaseStarting, Action: ActionEnsure}
		}

	case corralv1alpha1.PhaseRunning:
		switch in.Workload {
		case WorkloadFailed:
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown, Reason: "workload failed"}
		case WorkloadMissing, WorkloadPending:
			return Decision{Phase: corralv1alpha1.PhaseStarting, Action: ActionEnsure, Reason: "workload not ready"}
		}
		if isIdle(server, in.Pool, in.Activity, in.Now) {
			return Decision{Phase: corralv1alpha1.PhaseIdle, Action: ActionNone, Reason: "idle timeout reached"}
		}
		return Decision{Phase: corralv1alpha1.PhaseRunning, Action: ActionNone}

	case corralv1alpha1.PhaseIdle:
		switch in.Workload {
		case WorkloadFailed:
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown, Reason: "workload failed"}
		case WorkloadMissing, WorkloadPending:
			return Decision{Phase: corralv1alpha1.PhaseStarting, Action: ActionEnsure, Reason: "workload not ready"}
		}
		if !isIdle(server, in.Pool, in.Activity, in.Now) {
			return Decision{Phase: corralv1alpha1.PhaseRunning, Action: ActionNone, Reason: "activity resumed"}
		}
		return Decision{Phase: corralv1alpha1.PhaseIdle, Action: ActionNone}

	case corralv1alpha1.PhaseStopping:
		if in.Workload != WorkloadMissing {
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown}
		}
		// Teardown confirmed. Failure-driven stops resolve by restart policy;
		// everything else lands in Stopped.
		if server.Status.LastError != "" {
			if in.Pool != nil && in.Pool.Spec.RestartPolicy == corralv1alpha1.RestartAlways {
				return Decision{Phase: corralv1alpha1.PhasePending, Action: ActionNone, Reason: "restarting failed workload"}
			}
			return Decision{Phase: corralv1alpha1.PhaseFailed, Action: ActionNone, Reason: server.Status.LastError}
		}
		return Decision{Phase: corralv1alpha1.PhaseStopped, Action: ActionNone, Reason: "teardown complete"}

	case corralv1alpha1.PhaseStopped:
		if in.Workload != WorkloadMissing {
			return Decision{Phase: corralv1alpha1.PhaseStarting, Action: ActionEnsure, Reason: "adopting existing workload"}
		}
		// Stop flag cleared: restart through the capacity gate.
		return Decision{Phase: corralv1alpha1.PhasePending, Action: ActionNone, Reason: "restart requested"}

	case corralv1alpha1.PhaseFailed:
		if in.Workload != WorkloadMissing {
			return Decision{Phase: corralv1alpha1.PhaseStopping, Action: ActionTeardown, Reason: "clearing failed workload"}
		}
		if server.Generation != server.Status.ObservedGeneration {
			return Decision{Phase: corralv1alpha1.PhasePending, Action: ActionNone, Reason: "spec changed"}
		}
		if in.Pool != nil && in.Pool.Spec.RestartPolicy == corralv1alpha1.RestartAlways {
			return Decision{Phase: corralv1alpha1.PhasePending, Action: ActionNone, Reason: "restart policy"}
		}
		return Decision{Phase: corralv1alpha1.PhaseFailed, Action: ActionNone}
	}

	return Decision{Phase: phase, Action: ActionNone}
}

// isIdle reports whether an instance has been inactive past the pool's idle
// timeout. Open connections always count as activity.
func isIdle(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool, activity api.ActivitySnapshot, now time.Time) bool {
	timeout := IdleTimeoutFor(pool)
	if timeout <= 0 {
		return false
	}
	if activity.CurrentConnections > 0 || server.Status.CurrentConnections > 0 {
		return false
	}

	last := LastActivity(server, activity)
	if last.IsZero() {
		// Never served traffic: the idle clock starts when the instance
		// became Running.
		if server.Status.StartedAt == nil {
			return false
		}
		last = server.Status.StartedAt.Time
	}

	return now.Sub(last) >= timeout
}

// LastActivity returns the most recent of the recorded and live activity
// timestamps for an instance. Zero when it has never seen traffic.
func LastActivity(server *corralv1alpha1.MCPServer, activity api.ActivitySnapshot) time.Time {
	last := activity.LastRequestAt
	if server.Status.LastRequestAt != nil && server.Status.LastRequestAt.Time.After(last) {
		last = server.Status.LastRequestAt.Time
	}
	return last
}

// retentionElapsed reports whether a stopped record has outlived the pool's
// retention window and should be reaped.
func retentionElapsed(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool, now time.Time) bool {
	if server.Status.StoppedAt == nil {
		return false
	}
	return now.Sub(server.Status.StoppedAt.Time) >= StoppedRetentionFor(pool)
}
