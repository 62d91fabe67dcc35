package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

// KubernetesDetector implements ChangeDetector using controller-runtime informers.
//
// It watches the corral CRDs (MCPServerPool, MCPServer) via Kubernetes
// informers and generates change events when resources are created, updated,
// or deleted. Pool events additionally fan out to the pool's member servers,
// so a policy change on the pool re-evaluates every instance drawn from it.
type KubernetesDetector struct {
	mu sync.RWMutex

	// restConfig is the Kubernetes REST configuration
	restConfig *rest.Config

	// namespace is the Kubernetes namespace to watch (empty for all namespaces)
	namespace string

	// cache is the controller-runtime cache for watching resources
	cache cache.Cache

	// scheme is the runtime scheme with registered types
	scheme *runtime.Scheme

	// changeChan is the channel to send change events to
	changeChan chan<- ChangeEvent

	// ctx is the detector's context
	ctx context.Context

	// cancelFunc cancels the detector's context
	cancelFunc context.CancelFunc

	// running indicates if the detector is active
	running bool

	// informerRegistrations tracks registered event handlers for cleanup
	informerRegistrations []toolscache.ResourceEventHandlerRegistration
}

// NewKubernetesDetector creates a new Kubernetes change detector.
//
// Args:
//   - restConfig: Kubernetes REST configuration for API access
//   - namespace: Namespace to watch (empty string watches all namespaces)
//
// Returns:
//   - *KubernetesDetector: The configured detector
//   - error: Error if scheme registration fails
func NewKubernetesDetector(restConfig *rest.Config, namespace string) (*KubernetesDetector, error) {
	// Create scheme with standard Kubernetes types and corral CRDs
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(corralv1alpha1.AddToScheme(scheme))

	return &KubernetesDetector{
		restConfig:            restConfig,
		namespace:             namespace,
		scheme:                scheme,
		informerRegistrations: make([]toolscache.ResourceEventHandlerRegistration, 0),
	}, nil
}

// Start begins watching for Kubernetes resource changes.
func (d *KubernetesDetector) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	d.ctx, d.cancelFunc = context.WithCancel(ctx)
	d.changeChan = changes
	d.running = true
	d.mu.Unlock()

	// Create cache options
	cacheOpts := cache.Options{
		Scheme: d.scheme,
	}
	if d.namespace != "" {
		cacheOpts.DefaultNamespaces = map[string]cache.Config{
			d.namespace: {},
		}
	}

	// Create the cache
	c, err := cache.New(d.restConfig, cacheOpts)
	if err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to create cache: %w", err)
	}

	d.mu.Lock()
	d.cache = c
	d.mu.Unlock()

	// Setup informers for both corral kinds
	if err := d.setupInformers(); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to setup informers: %w", err)
	}

	// Start the cache in a goroutine
	go func() {
		if err := d.cache.Start(d.ctx); err != nil {
			logging.Error("KubernetesDetector", err, "Cache stopped with error")
		}
	}()

	// Wait for cache to sync
	if !d.cache.WaitForCacheSync(d.ctx) {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to sync cache")
	}

	logging.Info("KubernetesDetector", "Started watching corral resources in namespace: %s", d.namespaceDisplay())
	return nil
}

// setupInformers creates informers for both resource types.
func (d *KubernetesDetector) setupInformers() error {
	for _, rt := range []ResourceType{ResourceTypeMCPServerPool, ResourceTypeMCPServer} {
		if err := d.setupInformerForType(rt); err != nil {
			return fmt.Errorf("informer for %s: %w", rt, err)
		}
	}
	return nil
}

// setupInformerForType creates an informer for a specific resource type.
func (d *KubernetesDetector) setupInformerForType(resourceType ResourceType) error {
	var obj client.Object
	switch resourceType {
	case ResourceTypeMCPServer:
		obj = &corralv1alpha1.MCPServer{}
	case ResourceTypeMCPServerPool:
		obj = &corralv1alpha1.MCPServerPool{}
	default:
		return fmt.Errorf("unsupported resource type: %s", resourceType)
	}

	// Get informer for the object type
	informer, err := d.cache.GetInformer(d.ctx, obj)
	if err != nil {
		return fmt.Errorf("failed to get informer for %s: %w", resourceType, err)
	}

	// Create an event handler for this resource type
	handler := d.createEventHandler(resourceType)

	// Register the event handler with the informer
	registration, err := informer.AddEventHandler(handler)
	if err != nil {
		return fmt.Errorf("failed to add event handler for %s: %w", resourceType, err)
	}

	d.mu.Lock()
	d.informerRegistrations = append(d.informerRegistrations, registration)
	d.mu.Unlock()

	logging.Debug("KubernetesDetector", "Setup informer for resource type: %s", resourceType)
	return nil
}

// createEventHandler creates a ResourceEventHandler for a specific resource type.
func (d *KubernetesDetector) createEventHandler(resourceType ResourceType) toolscache.ResourceEventHandler {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			d.handleEvent(resourceType, OperationCreate, obj, true)
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			// Status-only writes keep the generation. Members only need a
			// pass for spec-level pool changes, and skipping the fan-out
			// here keeps the controller's own status writes from feeding
			// back into the queue.
			d.handleEvent(resourceType, OperationUpdate, newObj, generationChanged(oldObj, newObj))
		},
		DeleteFunc: func(obj interface{}) {
			// Handle DeletedFinalStateUnknown for objects deleted while the
			// controller was down
			if deletedState, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
				obj = deletedState.Obj
			}
			d.handleEvent(resourceType, OperationDelete, obj, true)
		},
	}
}

// generationChanged reports whether an update touched the object's spec.
func generationChanged(oldObj, newObj interface{}) bool {
	oldMeta, okOld := oldObj.(client.Object)
	newMeta, okNew := newObj.(client.Object)
	if !okOld || !okNew {
		return true
	}
	return oldMeta.GetGeneration() != newMeta.GetGeneration()
}

// handleEvent processes an informer event and emits the matching change
// events.
func (d *KubernetesDetector) handleEvent(resourceType ResourceType, op ChangeOperation, obj interface{}, fanOut bool) {
	meta, ok := extractObjectMeta(obj)
	if !ok {
		logging.Warn("KubernetesDetector", "Failed to extract metadata from %s event", op)
		return
	}

	d.sendChangeEvent(ChangeEvent{
		Type:      resourceType,
		Name:      meta.name,
		Namespace: meta.namespace,
		Operation: op,
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
	})

	if resourceType == ResourceTypeMCPServerPool && fanOut {
		d.expandPoolEvent(meta.name, meta.namespace)
	}
}

// expandPoolEvent emits a change event for every server drawn from a pool.
// Pool spec changes shift capacity and lifecycle policy for all members, and
// a deleted pool orphans them; either way each member needs a fresh pass.
func (d *KubernetesDetector) expandPoolEvent(poolName, namespace string) {
	d.mu.RLock()
	c := d.cache
	ctx := d.ctx
	d.mu.RUnlock()

	if c == nil || ctx == nil {
		return
	}

	var servers corralv1alpha1.MCPServerList
	if err := c.List(ctx, &servers, client.InNamespace(namespace)); err != nil {
		logging.Warn("KubernetesDetector", "Failed to list members of pool %s/%s: %v", namespace, poolName, err)
		return
	}

	now := time.Now()
	for i := range servers.Items {
		server := &servers.Items[i]
		if server.Spec.PoolRef != poolName {
			continue
		}
		d.sendChangeEvent(ChangeEvent{
			Type:      ResourceTypeMCPServer,
			Name:      server.Name,
			Namespace: server.Namespace,
			Operation: OperationUpdate,
			Timestamp: now,
			Source:    SourceKubernetes,
		})
	}
}

// objectMeta holds extracted metadata from a Kubernetes object.
type objectMeta struct {
	name      string
	namespace string
}

// extractObjectMeta extracts name and namespace from a Kubernetes object.
func extractObjectMeta(obj interface{}) (objectMeta, bool) {
	if clientObj, ok := obj.(client.Object); ok {
		return objectMeta{
			name:      clientObj.GetName(),
			namespace: clientObj.GetNamespace(),
		}, true
	}
	return objectMeta{}, false
}

// sendChangeEvent sends a change event to the output channel.
func (d *KubernetesDetector) sendChangeEvent(event ChangeEvent) {
	d.mu.RLock()
	changeChan := d.changeChan
	running := d.running
	d.mu.RUnlock()

	if !running || changeChan == nil {
		return
	}

	select {
	case changeChan <- event:
		logging.Debug("KubernetesDetector", "Emitted change event: %s %s/%s/%s",
			event.Operation, event.Type, event.Namespace, event.Name)
	default:
		logging.Warn("KubernetesDetector", "Change event channel full, dropping event for %s/%s/%s",
			event.Type, event.Namespace, event.Name)
	}
}

// Stop gracefully stops the Kubernetes detector.
func (d *KubernetesDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false

	// Cancel the context to stop the cache and informers
	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	// Clear registrations (they are automatically removed when cache stops)
	d.informerRegistrations = nil

	logging.Info("KubernetesDetector", "Stopped Kubernetes detector")
	return nil
}

// GetSource returns the change source type.
func (d *KubernetesDetector) GetSource() ChangeSource {
	return SourceKubernetes
}

// namespaceDisplay returns a display string for the namespace.
func (d *KubernetesDetector) namespaceDisplay() string {
	if d.namespace == "" {
		return "all namespaces"
	}
	return d.namespace
}

// GetRestConfig returns the REST config for creating a Kubernetes detector.
// This is a convenience function that uses controller-runtime's config detection.
func GetRestConfig() (*rest.Config, error) {
	return ctrl.GetConfig()
}
