package workload

import (
	"corral/internal/store"
)

// NewManager selects the workload backend matching the store's mode:
// Kubernetes pods and services inside a cluster, host processes otherwise.
func NewManager(s store.Store) Manager {
	if s.IsKubernetesMode() {
		return NewKubernetesManager(s)
	}
	return NewLocalManager()
}
