package store

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// kubernetesStore implements Store using the Kubernetes API and controller-runtime.
//
// This implementation provides native Kubernetes integration with proper scheme
// registration and status subresource updates.
type kubernetesStore struct {
	client.Client
	scheme *runtime.Scheme
}

// NewKubernetesStore creates a new Kubernetes-backed store.
//
// The store uses controller-runtime for Kubernetes API access. Creation fails
// when the corral CRDs are not installed, which callers treat as the signal to
// fall back to the in-memory store.
func NewKubernetesStore(config *rest.Config) (Store, error) {
	// Create scheme with standard Kubernetes types and corral CRDs
	scheme := runtime.NewScheme()

	// Add standard Kubernetes types
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	// Add corral CRD types
	utilruntime.Must(corralv1alpha1.AddToScheme(scheme))

	// Create controller-runtime client with the scheme
	k8sClient, err := client.New(config, client.Options{
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	// Validate that required CRDs are available
	s := &kubernetesStore{
		Client: k8sClient,
		scheme: scheme,
	}

	if err := s.validateCRDs(context.Background()); err != nil {
		return nil, fmt.Errorf("CRD validation failed: %w", err)
	}

	return s, nil
}

// GetPool retrieves a specific MCPServerPool resource.
func (k *kubernetesStore) GetPool(ctx context.Context, name, namespace string) (*corralv1alpha1.MCPServerPool, error) {
	pool := &corralv1alpha1.MCPServerPool{}
	key := types.NamespacedName{
		Name:      name,
		Namespace: namespace,
	}

	if err := k.Client.Get(ctx, key, pool); err != nil {
		return nil, fmt.Errorf("failed to get MCPServerPool %s/%s: %w", namespace, name, err)
	}

	return pool, nil
}

// ListPools lists all MCPServerPool resources in a namespace.
func (k *kubernetesStore) ListPools(ctx context.Context, namespace string) ([]corralv1alpha1.MCPServerPool, error) {
	poolList := &corralv1alpha1.MCPServerPoolList{}
	listOpts := []client.ListOption{}

	if namespace != "" {
		listOpts = append(listOpts, client.InNamespace(namespace))
	}

	if err := k.Client.List(ctx, poolList, listOpts...); err != nil {
		return nil, fmt.Errorf("failed to list MCPServerPools in namespace %s: %w", namespace, err)
	}

	return poolList.Items, nil
}

// CreatePool creates a new MCPServerPool resource.
func (k *kubernetesStore) CreatePool(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error {
	if err := k.Client.Create(ctx, pool); err != nil {
		return fmt.Errorf("failed to create MCPServerPool %s/%s: %w", pool.Namespace, pool.Name, err)
	}

	return nil
}

// UpdatePool updates an existing MCPServerPool resource.
func (k *kubernetesStore) UpdatePool(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error {
	if err := k.Client.Update(ctx, pool); err != nil {
		return fmt.Errorf("failed to update MCPServerPool %s/%s: %w", pool.Namespace, pool.Name, err)
	}

	return nil
}

// DeletePool deletes an MCPServerPool resource.
func (k *kubernetesStore) DeletePool(ctx context.Context, name, namespace string) error {
	pool := &corralv1alpha1.MCPServerPool{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
	}

	if err := k.Client.Delete(ctx, pool); err != nil {
		return fmt.Errorf("failed to delete MCPServerPool %s/%s: %w", namespace, name, err)
	}

	return nil
}

// GetServer retrieves a specific MCPServer resource.
func (k *kubernetesStore) GetServer(ctx context.Context, name, namespace string) (*corralv1alpha1.MCPServer, error) {
	server := &corralv1alpha1.MCPServer{}
	key := types.NamespacedName{
		Name:      name,
		Namespace: namespace,
	}

	if err := k.Client.Get(ctx, key, server); err != nil {
		return nil, fmt.Errorf("failed to get MCPServer %s/%s: %w", namespace, name, err)
	}

	return server, nil
}

// ListServers lists all MCPServer resources in a namespace.
func (k *kubernetesStore) ListServers(ctx context.Context, namespace string) ([]corralv1alpha1.MCPServer, error) {
	serverList := &corralv1alpha1.MCPServerList{}
	listOpts := []client.ListOption{}

	if namespace != "" {
		listOpts = append(listOpts, client.InNamespace(namespace))
	}

	if err := k.Client.List(ctx, serverList, listOpts...); err != nil {
		return nil, fmt.Errorf("failed to list MCPServers in namespace %s: %w", namespace, err)
	}

	return serverList.Items, nil
}

// ListServersInPool lists the MCPServer resources referencing a pool.
//
// Pool membership is a spec field rather than a label, so this filters
// client-side after a namespace-scoped list.
func (k *kubernetesStore) ListServersInPool(ctx context.Context, pool, namespace string) ([]corralv1alpha1.MCPServer, error) {
	all, err := k.ListServers(ctx, namespace)
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

// CreateServer creates a new MCPServer resource.
func (k *kubernetesStore) CreateServer(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	if err := k.Client.Create(ctx, server); err != nil {
		return fmt.Errorf("failed to create MCPServer %s/%s: %w", server.Namespace, server.Name, err)
	}

	return nil
}

// UpdateServer updates an existing MCPServer resource.
func (k *kubernetesStore) UpdateServer(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	if err := k.Client.Update(ctx, server); err != nil {
		return fmt.Errorf("failed to update MCPServer %s/%s: %w", server.Namespace, server.Name, err)
	}

	return nil
}

// DeleteServer deletes an MCPServer resource.
func (k *kubernetesStore) DeleteServer(ctx context.Context, name, namespace string) error {
	server := &corralv1alpha1.MCPServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
	}

	if err := k.Client.Delete(ctx, server); err != nil {
		return fmt.Errorf("failed to delete MCPServer %s/%s: %w", namespace, name, err)
	}

	return nil
}

// UpdatePoolStatus updates only the status subresource of an MCPServerPool.
func (k *kubernetesStore) UpdatePoolStatus(ctx context.Context, pool *corralv1alpha1.MCPServerPool) error {
	if err := k.Client.Status().Update(ctx, pool); err != nil {
		return fmt.Errorf("failed to update MCPServerPool status %s/%s: %w", pool.Namespace, pool.Name, err)
	}

	return nil
}

// UpdateServerStatus updates only the status subresource of an MCPServer.
func (k *kubernetesStore) UpdateServerStatus(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	if err := k.Client.Status().Update(ctx, server); err != nil {
		return fmt.Errorf("failed to update MCPServer status %s/%s: %w", server.Namespace, server.Name, err)
	}

	return nil
}

// IsKubernetesMode returns true since this is the Kubernetes implementation.
func (k *kubernetesStore) IsKubernetesMode() bool {
	return true
}

// Close performs cleanup for the Kubernetes store.
//
// Controller-runtime clients don't require explicit cleanup, but this method
// is provided for interface compatibility.
func (k *kubernetesStore) Close() error {
	return nil
}

// validateCRDs checks if the required corral CRDs are available in the cluster.
//
// This performs a test API call to verify that the MCPServerPool CRD is
// installed and available. If the CRDs are not available, it returns an error,
// which triggers fallback to the in-memory store.
func (k *kubernetesStore) validateCRDs(ctx context.Context) error {
	if _, err := k.ListPools(ctx, "default"); err != nil {
		return fmt.Errorf("MCPServerPool CRD not available: %w", err)
	}

	return nil
}

// CreateEvent creates a Kubernetes Event for the given object.
func (k *kubernetesStore) CreateEvent(ctx context.Context, obj client.Object, reason, message, eventType string) error {
	gvk, err := k.GroupVersionKindFor(obj)
	if err != nil {
		return fmt.Errorf("failed to get GroupVersionKind for object: %w", err)
	}

	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: obj.GetName() + "-",
			Namespace:    obj.GetNamespace(),
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: gvk.GroupVersion().String(),
			Kind:       gvk.Kind,
			Name:       obj.GetName(),
			Namespace:  obj.GetNamespace(),
			UID:        obj.GetUID(),
		},
		Reason:         reason,
		Message:        message,
		Type:           eventType,
		Source:         corev1.EventSource{Component: "corral"},
		FirstTimestamp: metav1.NewTime(time.Now()),
		LastTimestamp:  metav1.NewTime(time.Now()),
		Count:          1,
	}

	if err := k.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create Kubernetes Event: %w", err)
	}

	return nil
}

// CreateEventForCRD creates a Kubernetes Event for a CRD by type, name, and namespace.
func (k *kubernetesStore) CreateEventForCRD(ctx context.Context, crdType, name, namespace, reason, message, eventType string) error {
	// Determine the GroupVersionKind based on the CRD type
	var gvk schema.GroupVersionKind
	switch crdType {
	case "MCPServer":
		gvk = corralv1alpha1.GroupVersion.WithKind("MCPServer")
	case "MCPServerPool":
		gvk = corralv1alpha1.GroupVersion.WithKind("MCPServerPool")
	default:
		return fmt.Errorf("unsupported CRD type: %s", crdType)
	}

	// Try to get the actual object to retrieve its UID
	var uid types.UID
	switch crdType {
	case "MCPServer":
		if obj, err := k.GetServer(ctx, name, namespace); err == nil {
			uid = obj.GetUID()
		}
	case "MCPServerPool":
		if obj, err := k.GetPool(ctx, name, namespace); err == nil {
			uid = obj.GetUID()
		}
	}

	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: name + "-",
			Namespace:    namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: gvk.GroupVersion().String(),
			Kind:       gvk.Kind,
			Name:       name,
			Namespace:  namespace,
			UID:        uid,
		},
		Reason:         reason,
		Message:        message,
		Type:           eventType,
		Source:         corev1.EventSource{Component: "corral"},
		FirstTimestamp: metav1.NewTime(time.Now()),
		LastTimestamp:  metav1.NewTime(time.Now()),
		Count:          1,
	}

	if err := k.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create Kubernetes Event for %s %s/%s: %w", crdType, namespace, name, err)
	}

	return nil
}
