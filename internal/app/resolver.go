package app

import (
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"corral/internal/api"
	"corral/internal/bridge"
	"corral/internal/store"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// Conventional MCP endpoint paths on the instance side. Images speak SSE at
// /sse and streamable HTTP at /mcp (the mcp-go server defaults). Stdio
// instances are fronted by the in-pod shim, which exposes the bridge's own
// per-server SSE surface instead.
const (
	ssePath        = "/sse"
	streamablePath = "/mcp"
)

// storeResolver maps a server name from the bridge URL to its relay target
// using the record in the store. It gates on lifecycle phase: sessions only
// open against instances that are Running or Idle. A Pending or Starting
// instance resolves to ErrServerNotReady so clients retry while the
// controller brings the workload up.
type storeResolver struct {
	store     store.Store
	namespace string
}

func newStoreResolver(st store.Store, namespace string) *storeResolver {
	return &storeResolver{store: st, namespace: namespace}
}

// ResolveBackend implements bridge.BackendResolver.
func (r *storeResolver) ResolveBackend(ctx context.Context, name string) (*bridge.Backend, error) {
	server, err := r.store.GetServer(ctx, name, r.namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, api.NewServerNotFoundError(name)
		}
		return nil, api.NewSubstrateError("get server", err)
	}

	phase := server.Status.Phase
	if phase == "" {
		phase = corralv1alpha1.PhasePending
	}
	switch phase {
	case corralv1alpha1.PhaseRunning, corralv1alpha1.PhaseIdle:
		// Reachable. Idle instances wake on the first relayed request.
	case corralv1alpha1.PhasePending, corralv1alpha1.PhaseStarting:
		return nil, bridge.ErrServerNotReady
	default:
		return nil, api.NewTransportError(name, fmt.Errorf("server is %s", strings.ToLower(string(phase))))
	}
	if server.Status.Endpoint == "" {
		// Phase says ready but the endpoint has not been recorded yet;
		// treat the gap like a startup race.
		return nil, bridge.ErrServerNotReady
	}

	var pool *corralv1alpha1.MCPServerPool
	if server.Spec.PoolRef != "" {
		if p, err := r.store.GetPool(ctx, server.Spec.PoolRef, r.namespace); err == nil {
			pool = p
		}
	}

	backend := &bridge.Backend{
		Key:      server.Namespace + "/" + server.Name,
		Endpoint: server.Status.Endpoint,
	}
	switch server.EffectiveTransport(pool) {
	case corralv1alpha1.TransportStdio:
		// The shim inside the pod re-exposes the stdio server over SSE.
		backend.Transport = string(corralv1alpha1.TransportSSE)
		backend.Endpoint += "/servers/" + server.Name + "/sse"
	case corralv1alpha1.TransportSSE:
		backend.Transport = string(corralv1alpha1.TransportSSE)
		backend.Endpoint += ssePath
	default:
		backend.Transport = string(corralv1alpha1.TransportStreamableHTTP)
		backend.Endpoint += streamablePath
	}
	return backend, nil
}
