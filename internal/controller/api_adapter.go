package controller

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/util/retry"

	"corral/internal/api"
	"corral/internal/store"
	"corral/internal/workload"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

// Defaults applied to pool create requests. They mirror the CRD defaults so
// the in-memory store behaves the same as a cluster with admission defaulting.
const (
	defaultPoolMaxServers       = 5
	defaultPoolIdleTimeout      = 5 * time.Minute
	defaultPoolStoppedRetention = 10 * time.Minute
	defaultPoolPort             = 8080
)

// ReconcileAPIAdapter exposes the reconcile manager through the central API
// handler registry.
type ReconcileAPIAdapter struct {
	manager *Manager
}

// NewReconcileAPIAdapter creates an adapter around the given manager.
func NewReconcileAPIAdapter(manager *Manager) *ReconcileAPIAdapter {
	return &ReconcileAPIAdapter{manager: manager}
}

// Register registers this adapter with the API layer.
func (a *ReconcileAPIAdapter) Register() {
	api.RegisterReconcileManager(a)
}

// TriggerReconcile enqueues a reconciliation for the named resource.
func (a *ReconcileAPIAdapter) TriggerReconcile(resourceType, name, namespace string) {
	if !IsValidResourceType(resourceType) {
		logging.Warn("API", "Dropping reconcile trigger for unknown resource type %q", resourceType)
		return
	}
	a.manager.TriggerReconcile(ResourceType(resourceType), name, namespace)
}

// IsRunning reports whether the reconcile workers are running.
func (a *ReconcileAPIAdapter) IsRunning() bool {
	return a.manager.IsRunning()
}

// GetQueueLength returns the current reconciliation queue length.
func (a *ReconcileAPIAdapter) GetQueueLength() int {
	return a.manager.GetQueueLength()
}

// PoolAPIAdapter implements the pool manager API on top of the resource
// store. Mutations go through the store and the change detectors pick them
// up; the adapter additionally nudges the queue directly so offline mode,
// which has no informers, reacts immediately.
type PoolAPIAdapter struct {
	store     store.Store
	manager   *Manager
	namespace string
}

// NewPoolAPIAdapter creates an adapter for pool and server operations.
func NewPoolAPIAdapter(st store.Store, manager *Manager, namespace string) *PoolAPIAdapter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PoolAPIAdapter{store: st, manager: manager, namespace: namespace}
}

// Register registers this adapter with the API layer.
func (a *PoolAPIAdapter) Register() {
	api.RegisterPoolManager(a)
}

// CreatePool validates and persists a new pool record.
func (a *PoolAPIAdapter) CreatePool(ctx context.Context, req api.CreatePoolRequest) (*api.PoolInfo, error) {
	if err := validateCreatePool(req); err != nil {
		return nil, err
	}

	pool := buildPool(req, a.namespace)
	if err := a.store.CreatePool(ctx, pool); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, api.NewSpecError("name", fmt.Sprintf("pool %q already exists", req.Name))
		}
		return nil, api.NewSubstrateError("create pool", err)
	}

	a.trigger(ResourceTypeMCPServerPool, pool.Name)
	logging.Info("API", "Created pool %s/%s (transport=%s, maxServers=%d)", pool.Namespace, pool.Name, pool.Spec.Transport, pool.Spec.MaxServers)
	return poolInfo(pool), nil
}

// ListPools returns all pool records.
func (a *PoolAPIAdapter) ListPools(ctx context.Context) ([]api.PoolInfo, error) {
	pools, err := a.store.ListPools(ctx, a.namespace)
	if err != nil {
		return nil, api.NewSubstrateError("list pools", err)
	}

	infos := make([]api.PoolInfo, 0, len(pools))
	for i := range pools {
		infos = append(infos, *poolInfo(&pools[i]))
	}
	return infos, nil
}

// GetPool returns a single pool record.
func (a *PoolAPIAdapter) GetPool(ctx context.Context, name string) (*api.PoolInfo, error) {
	pool, err := a.store.GetPool(ctx, name, a.namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, api.NewPoolNotFoundError(name)
		}
		return nil, api.NewSubstrateError("get pool", err)
	}
	return poolInfo(pool), nil
}

// ListServers returns server instances, optionally filtered by pool name.
func (a *PoolAPIAdapter) ListServers(ctx context.Context, pool string) ([]api.ServerInfo, error) {
	var servers []corralv1alpha1.MCPServer
	var err error

	if pool != "" {
		if _, err := a.store.GetPool(ctx, pool, a.namespace); err != nil {
			if apierrors.IsNotFound(err) {
				return nil, api.NewPoolNotFoundError(pool)
			}
			return nil, api.NewSubstrateError("get pool", err)
		}
		servers, err = a.store.ListServersInPool(ctx, pool, a.namespace)
	} else {
		servers, err = a.store.ListServers(ctx, a.namespace)
	}
	if err != nil {
		return nil, api.NewSubstrateError("list servers", err)
	}

	poolsByName := a.poolsByName(ctx)
	infos := make([]api.ServerInfo, 0, len(servers))
	for i := range servers {
		server := &servers[i]
		infos = append(infos, *serverInfo(server, poolsByName[server.Spec.PoolRef]))
	}
	return infos, nil
}

// GetServer returns a single server instance.
func (a *PoolAPIAdapter) GetServer(ctx context.Context, name string) (*api.ServerInfo, error) {
	server, err := a.store.GetServer(ctx, name, a.namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, api.NewServerNotFoundError(name)
		}
		return nil, api.NewSubstrateError("get server", err)
	}

	pool, err := a.store.GetPool(ctx, server.Spec.PoolRef, a.namespace)
	if err != nil {
		pool = nil
	}
	return serverInfo(server, pool), nil
}

// GetPoolFor resolves the pool a server instance belongs to.
func (a *PoolAPIAdapter) GetPoolFor(ctx context.Context, serverName string) (*api.PoolInfo, error) {
	server, err := a.store.GetServer(ctx, serverName, a.namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, api.NewServerNotFoundError(serverName)
		}
		return nil, api.NewSubstrateError("get server", err)
	}

	pool, err := a.store.GetPool(ctx, server.Spec.PoolRef, a.namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, api.NewPoolNotFoundError(server.Spec.PoolRef)
		}
		return nil, api.NewSubstrateError("get pool", err)
	}
	return poolInfo(pool), nil
}

// StartServer creates a new instance in the pool, or restarts a stopped one.
func (a *PoolAPIAdapter) StartServer(ctx context.Context, poolName string) (*api.ServerInfo, error) {
	pool, err := a.store.GetPool(ctx, poolName, a.namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, api.NewPoolNotFoundError(poolName)
		}
		return nil, api.NewSubstrateError("get pool", err)
	}

	members, err := a.store.ListServersInPool(ctx, poolName, a.namespace)
	if err != nil {
		return nil, api.NewSubstrateError("list servers", err)
	}

	// Pending admissions hold a claim on capacity too. Counting them keeps a
	// burst of start requests from oversubscribing the pool before the
	// controller has admitted anything.
	var claimed int32
	for i := range members {
		m := &members[i]
		if m.DeletionTimestamp != nil {
			continue
		}
		phase := m.Status.Phase
		if phase.Active() || phase == "" || phase == corralv1alpha1.PhasePending {
			claimed++
		}
	}
	if claimed >= pool.Spec.MaxServers {
		return nil, api.NewCapacityError(poolName, pool.Spec.MaxServers, claimed)
	}

	// A stopped record restarts in place instead of growing the pool.
	for i := range members {
		m := &members[i]
		if m.Spec.Stop && m.Status.Phase == corralv1alpha1.PhaseStopped && m.DeletionTimestamp == nil {
			if err := a.clearStop(ctx, m.Name); err != nil {
				return nil, err
			}
			restarted, err := a.store.GetServer(ctx, m.Name, a.namespace)
			if err != nil {
				return nil, api.NewSubstrateError("get server", err)
			}
			a.trigger(ResourceTypeMCPServer, m.Name)
			logging.Info("API", "Restarting stopped server %s in pool %s", m.Name, poolName)
			return serverInfo(restarted, pool), nil
		}
	}

	server := &corralv1alpha1.MCPServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-%s", poolName, rand.String(5)),
			Namespace: a.namespace,
			Labels:    map[string]string{workload.PoolLabel: poolName},
		},
		Spec: corralv1alpha1.MCPServerSpec{PoolRef: poolName},
	}
	if err := a.store.CreateServer(ctx, server); err != nil {
		if apierrors.IsAlreadyExists(err) {
			// Collision on the random suffix; one retry is plenty.
			server.Name = fmt.Sprintf("%s-%s", poolName, rand.String(5))
			err = a.store.CreateServer(ctx, server)
		}
		if err != nil {
			return nil, api.NewSubstrateError("create server", err)
		}
	}

	a.trigger(ResourceTypeMCPServer, server.Name)
	logging.Info("API", "Started server %s in pool %s", server.Name, poolName)
	return serverInfo(server, pool), nil
}

// StopServer requests a graceful shutdown of an instance. Idempotent.
func (a *PoolAPIAdapter) StopServer(ctx context.Context, serverName string) error {
	err := retry.OnError(statusSyncRetryBackoff, apierrors.IsConflict, func() error {
		current, err := a.store.GetServer(ctx, serverName, a.namespace)
		if err != nil {
			return err
		}
		if current.Spec.Stop {
			return nil
		}
		current.Spec.Stop = true
		return a.store.UpdateServer(ctx, current)
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return api.NewServerNotFoundError(serverName)
		}
		return api.NewSubstrateError("update server", err)
	}

	a.trigger(ResourceTypeMCPServer, serverName)
	logging.Info("API", "Stop requested for server %s", serverName)
	return nil
}

// clearStop removes the stop request from a server record, retrying on write
// conflicts against a freshly fetched record.
func (a *PoolAPIAdapter) clearStop(ctx context.Context, name string) error {
	err := retry.OnError(statusSyncRetryBackoff, apierrors.IsConflict, func() error {
		current, err := a.store.GetServer(ctx, name, a.namespace)
		if err != nil {
			return err
		}
		if !current.Spec.Stop {
			return nil
		}
		current.Spec.Stop = false
		return a.store.UpdateServer(ctx, current)
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return api.NewServerNotFoundError(name)
		}
		return api.NewSubstrateError("update server", err)
	}
	return nil
}

// trigger nudges the reconcile queue for a resource, tolerating a nil
// manager so the adapter stays usable in isolation.
func (a *PoolAPIAdapter) trigger(resourceType ResourceType, name string) {
	if a.manager == nil {
		return
	}
	a.manager.TriggerReconcile(resourceType, name, a.namespace)
}

// poolsByName fetches all pools into a lookup map. Best effort: resolution
// failures degrade transport display, nothing else.
func (a *PoolAPIAdapter) poolsByName(ctx context.Context) map[string]*corralv1alpha1.MCPServerPool {
	byName := make(map[string]*corralv1alpha1.MCPServerPool)
	pools, err := a.store.ListPools(ctx, a.namespace)
	if err != nil {
		return byName
	}
	for i := range pools {
		byName[pools[i].Name] = &pools[i]
	}
	return byName
}

// validTransports is the set of transports a pool may declare.
var validTransports = map[string]bool{
	string(corralv1alpha1.TransportStdio):          true,
	string(corralv1alpha1.TransportSSE):            true,
	string(corralv1alpha1.TransportStreamableHTTP): true,
}

// validateCreatePool rejects malformed pool create requests.
func validateCreatePool(req api.CreatePoolRequest) error {
	if req.Name == "" {
		return api.NewSpecError("name", "must not be empty")
	}
	if errs := validation.IsDNS1123Subdomain(req.Name); len(errs) > 0 {
		return api.NewSpecError("name", errs[0])
	}
	if req.Image == "" {
		return api.NewSpecError("image", "must not be empty")
	}
	if req.Transport != "" && !validTransports[req.Transport] {
		return api.NewSpecError("transport", fmt.Sprintf("unsupported transport %q", req.Transport))
	}
	if req.Transport == string(corralv1alpha1.TransportStdio) && len(req.Command) == 0 {
		return api.NewSpecError("command", "stdio pools must declare the command to bridge")
	}
	if req.MaxServers < 0 {
		return api.NewSpecError("maxServers", "must not be negative")
	}
	if req.Port < 0 || req.Port > 65535 {
		return api.NewSpecError("port", "must be a valid port number")
	}
	if req.IdleTimeout < 0 {
		return api.NewSpecError("idleTimeout", "must not be negative")
	}
	if req.StoppedRetention < 0 {
		return api.NewSpecError("stoppedRetention", "must not be negative")
	}
	return nil
}

// buildPool maps a create request onto a pool record, applying the same
// defaults the CRD declares.
func buildPool(req api.CreatePoolRequest, namespace string) *corralv1alpha1.MCPServerPool {
	transport := corralv1alpha1.TransportStreamableHTTP
	if req.Transport != "" {
		transport = corralv1alpha1.TransportType(req.Transport)
	}

	maxServers := req.MaxServers
	if maxServers == 0 {
		maxServers = defaultPoolMaxServers
	}
	idleTimeout := req.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultPoolIdleTimeout
	}
	retention := req.StoppedRetention
	if retention == 0 {
		retention = defaultPoolStoppedRetention
	}
	port := req.Port
	if port == 0 {
		port = defaultPoolPort
	}

	return &corralv1alpha1.MCPServerPool{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.Name,
			Namespace: namespace,
		},
		Spec: corralv1alpha1.MCPServerPoolSpec{
			Transport:        transport,
			MaxServers:       maxServers,
			IdleTimeout:      metav1.Duration{Duration: idleTimeout},
			StoppedRetention: metav1.Duration{Duration: retention},
			RestartPolicy:    corralv1alpha1.RestartNever,
			Template: corralv1alpha1.ServerTemplate{
				Image:   req.Image,
				Command: req.Command,
				Args:    req.Args,
				Env:     req.Env,
				Port:    port,
			},
			Description: req.Description,
		},
	}
}

// poolInfo maps a pool record onto its API view.
func poolInfo(pool *corralv1alpha1.MCPServerPool) *api.PoolInfo {
	return &api.PoolInfo{
		Name:             pool.Name,
		Namespace:        pool.Namespace,
		Transport:        string(pool.Spec.Transport),
		MaxServers:       pool.Spec.MaxServers,
		IdleTimeout:      pool.Spec.IdleTimeout.Duration,
		StoppedRetention: pool.Spec.StoppedRetention.Duration,
		Image:            pool.Spec.Template.Image,
		Phase:            string(pool.Status.Phase),
		ActiveServers:    pool.Status.ActiveServers,
		IdleServers:      pool.Status.IdleServers,
		TotalServers:     pool.Status.TotalServers,
		Env:              pool.Spec.Template.Env,
		Description:      pool.Spec.Description,
	}
}

// serverInfo maps a server record onto its API view. The pool may be nil
// when it could not be resolved; the transport then falls back to the
// instance override or the global default.
func serverInfo(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) *api.ServerInfo {
	phase := server.Status.Phase
	if phase == "" {
		phase = corralv1alpha1.PhasePending
	}

	info := &api.ServerInfo{
		Name:               server.Name,
		Namespace:          server.Namespace,
		Pool:               server.Spec.PoolRef,
		Transport:          string(server.EffectiveTransport(pool)),
		Phase:              string(phase),
		Endpoint:           server.Status.Endpoint,
		TotalRequests:      server.Status.TotalRequests,
		CurrentConnections: server.Status.CurrentConnections,
		LastError:          server.Status.LastError,
	}
	if server.Status.LastRequestAt != nil {
		t := server.Status.LastRequestAt.Time
		info.LastRequestAt = &t
	}
	return info
}
