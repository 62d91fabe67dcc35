package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"corral/pkg/logging"

	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// memoryStore implements Store using in-process maps.
//
// This implementation backs offline mode and tests. It implements the same
// interface as the Kubernetes store so the controller and bridge are unaware
// of which substrate they run against. Objects are deep-copied on every read
// and write so callers can never mutate the stored state through a shared
// pointer.
type memoryStore struct {
	mu      sync.RWMutex
	pools   map[string]*corralv1alpha1.MCPServerPool
	servers map[string]*corralv1alpha1.MCPServer
}

// NewMemoryStore creates a new in-memory store.
//
// The store starts empty. Resources created through it live for the lifetime
// of the process.
func NewMemoryStore() Store {
	return &memoryStore{
		pools:   make(map[string]*corralv1alpha1.MCPServerPool),
		servers: make(map[string]*corralv1alpha1.MCPServer),
	}
}

func storeKey(name, namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	return namespace + "/" + name
}

var (
	poolGR   = schema.GroupResource{Group: "corral.giantswarm.io", Resource: "mcpserverpools"}
	serverGR = schema.GroupResource{Group: "corral.giantswarm.io", Resource: "mcpservers"}
)

// Get retrieves a resource by name and namespace (implements client.Client interface).
func (m *memoryStore) Get(ctx context.Context, key types.NamespacedName, obj client.Object, opts ...client.GetOption) error {
	switch v := obj.(type) {
	case *corralv1alpha1.MCPServerPool:
		pool, err := m.GetPool(ctx, key.Name, key.Namespace)
		if err != nil {
			return err
		}
		*v = *pool
		return nil
	case *corralv1alpha1.MCPServer:
		server, err := m.GetServer(ctx, key.Name, key.Namespace)
		if err != nil {
			return err
		}
		*v = *server
		return nil
	default:
		return fmt.Errorf("memory store does not support type %T", obj)
	}
}

// List retrieves a list of resources (implements client.Client interface).
func (m *memoryStore) List(ctx context.Context, list client.ObjectList, opts ...client.ListOption) error {
	// Extract namespace from list options
	namespace := ""
	for _, opt := range opts {
		if nsOpt, ok := opt.(client.InNamespace); ok {
			namespace = string(nsOpt)
		}
		if nsOpt, ok := opt.(*client.ListOptions); ok && nsOpt.Namespace != "" {
			namespace = nsOpt.Namespace
		}
	}

	switch v := list.(type) {
	case *corralv1alpha1.MCPServerPoolList:
		pools, err := m.ListPools(ctx, namespace)
		if err != nil {
			return err
		}
		v.Items = pools
		return nil
	case *corralv1alpha1.MCPServerList:
		servers, err := m.ListServers(ctx, namespace)
		if err != nil {
			return err
		}
		v.Items = servers
		return nil
	default:
		return fmt.Errorf("memory store does not support type %T", list)
	}
}

// Create creates a new resource (implements client.Client interface).
func (m *memoryStore) Create(ctx context.Context, obj client.Object, opts ...client.CreateOption) error {
	switch v := obj.(type) {
	case *corralv1alpha1.MCPServerPool:
		return m.CreatePool(ctx, v)
	case *corralv1alpha1.MCPServer:
		return m.CreateServer(ctx, v)
	default:
		return fmt.Errorf("memory store does not support type %T", obj)
	}
}

// Update updates an existing resource (implements client.Client interface).
func (m *memoryStore) Update(ctx context.Context, obj client.Object, opts ...client.UpdateOption) error {
	switch v := obj.(type) {
	case *corralv1alpha1.MCPServerPool:
		return m.UpdatePool(ctx, v)
	case *corralv1alpha1.MCPServer:
		return m.UpdateServer(ctx, v)
	default:
		return fmt.Errorf("memory store does not support type %T", obj)
	}
}

// Delete deletes a resource (implements client.Client interface).
func (m *memoryStore) Delete(ctx context.Context, obj client.Object, opts ...client.DeleteOption) error {
	switch v := obj.(type) {
	case *corralv1alpha1.MCPServerPool:
		return m.DeletePool(ctx, v.Name, v.Namespace)
	case *corralv1alpha1.MCPServer:
		return m.DeleteServer(ctx, v.Name, v.Namespace)
	default:
		return fmt.Errorf("memory store does not support type %T", obj)
	}
}

// Patch patches a resource (implements client.Client interface).
func (m *memoryStore) Patch(ctx context.Context, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
	// Memory store doesn't support patching - fall back to update
	return m.Update(ctx, obj)
}

// Apply applies a resource (implements client.Client interface).
func (m *memoryStore) Apply(ctx context.Context, obj runtime.ApplyConfiguration, opts ...client.ApplyOption) error {
	return fmt.Errorf("memory store does not support Apply operations with ApplyConfiguration")
}

// DeleteAllOf deletes all resources matching the given options (implements client.Client interface).
func (m *memoryStore) DeleteAllOf(ctx context.Context, obj client.Object, opts ...client.DeleteAllOfOption) error {
	return fmt.Errorf("memory store does not support DeleteAllOf operations")
}

// Status returns a status writer (implements client.Client interface).
func (m *memoryStore) Status() client.StatusWriter {
	return &memoryStatusWriter{store: m}
}

// SubResource returns a sub-resource client (implements client.Client interface).
func (m *memoryStore) SubResource(subResource string) client.SubResourceClient {
	return &memorySubResourceClient{store: m}
}

// Scheme returns the scheme (implements client.Client interface).
func (m *memoryStore) Scheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	corralv1alpha1.AddToScheme(scheme)
	return scheme
}

// RESTMapper returns a REST mapper (implements client.Client interface).
func (m *memoryStore) RESTMapper() meta.RESTMapper {
	// No REST mapping in memory mode
	return nil
}

// GroupVersionKindFor returns the GroupVersionKind for an object (implements client.Client interface).
func (m *memoryStore) GroupVersionKindFor(obj runtime.Object) (schema.GroupVersionKind, error) {
	switch obj.(type) {
	case *corralv1alpha1.MCPServerPool:
		return corralv1alpha1.GroupVersion.WithKind("MCPServerPool"), nil
	case *corralv1alpha1.MCPServer:
		return corralv1alpha1.GroupVersion.WithKind("MCPServer"), nil
	default:
		return schema.GroupVersionKind{}, fmt.Errorf("unknown object type %T", obj)
	}
}

// IsObjectNamespaced returns whether the object is namespaced (implements client.Client interface).
func (m *memoryStore) IsObjectNamespaced(obj runtime.Object) (bool, error) {
	// All corral resources are namespaced
	return true, nil
}

// GetPool retrieves a specific MCPServerPool from memory.
func (m *memoryStore) GetPool(ctx context.Context, name, namespace string) (*corralv1alpha1.MCPServerPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[storeKey(name, namespace)]
	if !ok {
		return nil, errors.NewNotFound(poolGR, name)
	}

	return pool.DeepCopy(), nil
}

// ListPools lists all MCPServerPools in a namespace. An empty namespace lists
// across all namespaces.
func (m *memoryStore) ListPools(ctx context.Context, namespace string) ([]corralv1alpha1.MCPServerPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pools []corralv1alpha1.MCPServerPool
	for _, pool := range m.pools {
		if namespace != "" && pool.Namespace != namespace {
			continue
		}
		pools = append(pools, *pool.DeepCopy())
	}

	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Name < pools[j].Name
	})

	return pools, nil
}

// CreatePool creates a new MCPServerPool in memory.
func (m *memoryStore) CreatePool(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool.Namespace == "" {
		pool.Namespace = "default"
	}

	key := storeKey(pool.Name, pool.Namespace)
	if _, exists := m.pools[key]; exists {
		return errors.NewAlreadyExists(poolGR, pool.Name)
	}

	if pool.CreationTimestamp.IsZero() {
		pool.CreationTimestamp = metav1.NewTime(time.Now())
	}

	m.pools[key] = pool.DeepCopy()
	return nil
}

// UpdatePool updates an existing MCPServerPool in memory.
func (m *memoryStore) UpdatePool(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool.Namespace == "" {
		pool.Namespace = "default"
	}

	key := storeKey(pool.Name, pool.Namespace)
	if _, exists := m.pools[key]; !exists {
		return errors.NewNotFound(poolGR, pool.Name)
	}

	m.pools[key] = pool.DeepCopy()
	return nil
}

// DeletePool deletes an MCPServerPool from memory.
func (m *memoryStore) DeletePool(ctx context.Context, name, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storeKey(name, namespace)
	if _, exists := m.pools[key]; !exists {
		return errors.NewNotFound(poolGR, name)
	}

	delete(m.pools, key)
	return nil
}

// GetServer retrieves a specific MCPServer from memory.
func (m *memoryStore) GetServer(ctx context.Context, name, namespace string) (*corralv1alpha1.MCPServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.servers[storeKey(name, namespace)]
	if !ok {
		return nil, errors.NewNotFound(serverGR, name)
	}

	return server.DeepCopy(), nil
}

// ListServers lists all MCPServers in a namespace. An empty namespace lists
// across all namespaces.
func (m *memoryStore) ListServers(ctx context.Context, namespace string) ([]corralv1alpha1.MCPServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var servers []corralv1alpha1.MCPServer
	for _, server := range m.servers {
		if namespace != "" && server.Namespace != namespace {
			continue
		}
		servers = append(servers, *server.DeepCopy())
	}

	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})

	return servers, nil
}

// ListServersInPool lists the MCPServers referencing a pool.
func (m *memoryStore) ListServersInPool(ctx context.Context, pool, namespace string) ([]corralv1alpha1.MCPServer, error) {
	all, err := m.ListServers(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var members []corralv1alpha1.MCPServer
	for _, server := range all {
		if server.Spec.PoolRef == pool {
			members = append(members, server)
		}
	}

	return members, nil
}

// CreateServer creates a new MCPServer in memory.
func (m *memoryStore) CreateServer(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if server.Namespace == "" {
		server.Namespace = "default"
	}

	key := storeKey(server.Name, server.Namespace)
	if _, exists := m.servers[key]; exists {
		return errors.NewAlreadyExists(serverGR, server.Name)
	}

	if server.CreationTimestamp.IsZero() {
		server.CreationTimestamp = metav1.NewTime(time.Now())
	}

	m.servers[key] = server.DeepCopy()
	return nil
}

// UpdateServer updates an existing MCPServer in memory.
func (m *memoryStore) UpdateServer(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if server.Namespace == "" {
		server.Namespace = "default"
	}

	key := storeKey(server.Name, server.Namespace)
	if _, exists := m.servers[key]; !exists {
		return errors.NewNotFound(serverGR, server.Name)
	}

	m.servers[key] = server.DeepCopy()
	return nil
}

// DeleteServer deletes an MCPServer from memory.
func (m *memoryStore) DeleteServer(ctx context.Context, name, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storeKey(name, namespace)
	if _, exists := m.servers[key]; !exists {
		return errors.NewNotFound(serverGR, name)
	}

	delete(m.servers, key)
	return nil
}

// UpdatePoolStatus updates the status of an MCPServerPool. The memory store
// has no status subresource, so this is a full update.
func (m *memoryStore) UpdatePoolStatus(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error {
	return m.UpdatePool(ctx, pool)
}

// UpdateServerStatus updates the status of an MCPServer. The memory store has
// no status subresource, so this is a full update.
func (m *memoryStore) UpdateServerStatus(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	return m.UpdateServer(ctx, server)
}

// IsKubernetesMode returns false since this is the memory implementation.
func (m *memoryStore) IsKubernetesMode() bool {
	return false
}

// Close performs cleanup for the memory store.
func (m *memoryStore) Close() error {
	return nil
}

// CreateEvent logs an event for the given object in memory mode.
func (m *memoryStore) CreateEvent(ctx context.Context, obj client.Object, reason, message, eventType string) error {
	logging.Info("event", "Event for %s/%s: %s - %s (%s)",
		obj.GetNamespace(), obj.GetName(), reason, message, eventType)
	return nil
}

// CreateEventForCRD logs an event for a CRD in memory mode.
func (m *memoryStore) CreateEventForCRD(ctx context.Context, crdType, name, namespace, reason, message, eventType string) error {
	logging.Info("event", "Event for %s %s/%s: %s - %s (%s)",
		crdType, namespace, name, reason, message, eventType)
	return nil
}

// memoryStatusWriter implements client.StatusWriter for the memory store.
type memoryStatusWriter struct {
	store *memoryStore
}

func (w *memoryStatusWriter) Create(ctx context.Context, obj client.Object, subResource client.Object, opts ...client.SubResourceCreateOption) error {
	// For the memory store, status create is the same as regular create
	return w.store.Create(ctx, obj)
}

func (w *memoryStatusWriter) Update(ctx context.Context, obj client.Object, opts ...client.SubResourceUpdateOption) error {
	// For the memory store, status updates are the same as regular updates
	return w.store.Update(ctx, obj)
}

func (w *memoryStatusWriter) Patch(ctx context.Context, obj client.Object, patch client.Patch, opts ...client.SubResourcePatchOption) error {
	// For the memory store, status patches are the same as regular patches
	return w.store.Patch(ctx, obj, patch)
}

func (w *memoryStatusWriter) Apply(ctx context.Context, obj runtime.ApplyConfiguration, opts ...client.SubResourceApplyOption) error {
	return fmt.Errorf("memory store does not support Apply operations with ApplyConfiguration")
}

// memorySubResourceClient implements client.SubResourceClient for the memory store.
type memorySubResourceClient struct {
	store *memoryStore
}

func (s *memorySubResourceClient) Get(ctx context.Context, obj client.Object, subResource client.Object, opts ...client.SubResourceGetOption) error {
	return s.store.Get(ctx, types.NamespacedName{Name: obj.GetName(), Namespace: obj.GetNamespace()}, obj)
}

func (s *memorySubResourceClient) Create(ctx context.Context, obj client.Object, subResource client.Object, opts ...client.SubResourceCreateOption) error {
	return s.store.Create(ctx, obj)
}

func (s *memorySubResourceClient) Update(ctx context.Context, obj client.Object, opts ...client.SubResourceUpdateOption) error {
	return s.store.Update(ctx, obj)
}

func (s *memorySubResourceClient) Patch(ctx context.Context, obj client.Object, patch client.Patch, opts ...client.SubResourcePatchOption) error {
	return s.store.Patch(ctx, obj, patch)
}

func (s *memorySubResourceClient) Apply(ctx context.Context, obj runtime.ApplyConfiguration, opts ...client.SubResourceApplyOption) error {
	return fmt.Errorf("memory store does not support Apply operations with ApplyConfiguration")
}
