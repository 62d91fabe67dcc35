package workload

import (
	"context"

	"corral/internal/lifecycle"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// Labels stamped on every substrate object a manager creates. They tie pods
// and services back to the records that own them.
const (
	ServerLabel = "corral.giantswarm.io/server"
	PoolLabel   = "corral.giantswarm.io/pool"
)

// Status is the observed condition of an instance's backing objects.
type Status struct {
	// State summarizes the workload for the lifecycle machine.
	State lifecycle.WorkloadState

	// Endpoint is the URL the bridge dials while the workload is Ready.
	Endpoint string

	// Reason carries detail for Pending and Failed states.
	Reason string
}

// Manager creates, probes and removes the backing workload of server
// instances. Implementations must be idempotent: Ensure on an existing
// workload and Teardown on a missing one both succeed.
type Manager interface {
	// Ensure creates or adopts the backing workload for the instance and
	// returns its endpoint. The pool supplies the template.
	Ensure(ctx context.Context, server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) (string, error)

	// Status probes the backing workload.
	Status(ctx context.Context, server *corralv1alpha1.MCPServer) (Status, error)

	// Teardown removes the backing workload. Absent objects are success.
	Teardown(ctx context.Context, server *corralv1alpha1.MCPServer) error
}
