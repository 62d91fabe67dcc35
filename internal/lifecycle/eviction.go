package lifecycle

import (
	"sort"
	"time"

	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// Defaults applied when a pool leaves the corresponding policy field unset.
const (
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultStoppedRetention = 10 * time.Minute
)

// IdleTimeoutFor returns the pool's idle timeout, falling back to the
// package default when unset.
func IdleTimeoutFor(pool *corralv1alpha1.MCPServerPool) time.Duration {
	if pool == nil || pool.Spec.IdleTimeout.Duration <= 0 {
		return DefaultIdleTimeout
	}
	return pool.Spec.IdleTimeout.Duration
}

// StoppedRetentionFor returns the pool's stopped-record retention, falling
// back to the package default when unset.
func StoppedRetentionFor(pool *corralv1alpha1.MCPServerPool) time.Duration {
	if pool == nil || pool.Spec.StoppedRetention.Duration <= 0 {
		return DefaultStoppedRetention
	}
	return pool.Spec.StoppedRetention.Duration
}

// CapacityUsed counts the pool members currently holding capacity, which is
// the instances in Starting, Running or Idle. Stopping instances are on their
// way out and Pending ones have not been admitted.
func CapacityUsed(servers []corralv1alpha1.MCPServer) int {
	used := 0
	for i := range servers {
		if servers[i].Status.Phase.Active() {
			used++
		}
	}
	return used
}

// PickEvictable selects up to need instances to evict so a pool can admit new
// work. Only Idle instances qualify, longest idle first. Instances already
// stopping or deleting are skipped.
func PickEvictable(servers []corralv1alpha1.MCPServer, need int) []corralv1alpha1.MCPServer {
	if need <= 0 {
		return nil
	}

	var idle []corralv1alpha1.MCPServer
	for i := range servers {
		s := servers[i]
		if s.Status.Phase != corralv1alpha1.PhaseIdle {
			continue
		}
		if s.Spec.Stop || s.DeletionTimestamp != nil {
			continue
		}
		idle = append(idle, s)
	}

	sort.Slice(idle, func(i, j int) bool {
		return evictionStamp(&idle[i]).Before(evictionStamp(&idle[j]))
	})

	if len(idle) > need {
		idle = idle[:need]
	}
	return idle
}

// evictionStamp is the timestamp eviction ordering is based on: last request,
// else start time, else record creation.
func evictionStamp(s *corralv1alpha1.MCPServer) time.Time {
	if s.Status.LastRequestAt != nil {
		return s.Status.LastRequestAt.Time
	}
	if s.Status.StartedAt != nil {
		return s.Status.StartedAt.Time
	}
	return s.CreationTimestamp.Time
}
