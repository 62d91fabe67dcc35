package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

func testPool(name, namespace string) *corralv1alpha1.MCPServerPool {
	return &corralv1alpha1.MCPServerPool{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Spec: corralv1alpha1.MCPServerPoolSpec{
			Transport:  corralv1alpha1.TransportStreamableHTTP,
			MaxServers: 3,
			Template: corralv1alpha1.ServerTemplate{
				Image: "ghcr.io/example/mcp-git:latest",
				Port:  8080,
			},
		},
	}
}

func testServer(name, namespace, pool string) *corralv1alpha1.MCPServer {
	return &corralv1alpha1.MCPServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Spec: corralv1alpha1.MCPServerSpec{
			PoolRef: pool,
		},
	}
}

func TestMemoryStore_PoolCRUD(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	defer st.Close()

	assert.False(t, st.IsKubernetesMode())

	// Get before create returns NotFound
	_, err := st.GetPool(ctx, "git-tools", "default")
	require.Error(t, err)
	assert.True(t, apierrors.IsNotFound(err))

	// Create
	pool := testPool("git-tools", "default")
	require.NoError(t, st.CreatePool(ctx, pool))

	// Duplicate create returns AlreadyExists
	err = st.CreatePool(ctx, testPool("git-tools", "default"))
	require.Error(t, err)
	assert.True(t, apierrors.IsAlreadyExists(err))

	// Get
	got, err := st.GetPool(ctx, "git-tools", "default")
	require.NoError(t, err)
	assert.Equal(t, "git-tools", got.Name)
	assert.Equal(t, int32(3), got.Spec.MaxServers)
	assert.False(t, got.CreationTimestamp.IsZero())

	// Update
	got.Spec.MaxServers = 5
	require.NoError(t, st.UpdatePool(ctx, got))
	got, err = st.GetPool(ctx, "git-tools", "default")
	require.NoError(t, err)
	assert.Equal(t, int32(5), got.Spec.MaxServers)

	// Update of a missing pool returns NotFound
	err = st.UpdatePool(ctx, testPool("missing", "default"))
	assert.True(t, apierrors.IsNotFound(err))

	// Delete
	require.NoError(t, st.DeletePool(ctx, "git-tools", "default"))
	_, err = st.GetPool(ctx, "git-tools", "default")
	assert.True(t, apierrors.IsNotFound(err))

	// Delete again returns NotFound
	err = st.DeletePool(ctx, "git-tools", "default")
	assert.True(t, apierrors.IsNotFound(err))
}

func TestMemoryStore_ListPoolsNamespaceFilter(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	require.NoError(t, st.CreatePool(ctx, testPool("zeta", "default")))
	require.NoError(t, st.CreatePool(ctx, testPool("alpha", "default")))
	require.NoError(t, st.CreatePool(ctx, testPool("other", "corral-system")))

	pools, err := st.ListPools(ctx, "default")
	require.NoError(t, err)
	require.Len(t, pools, 2)

	// Sorted by name for deterministic output
	assert.Equal(t, "alpha", pools[0].Name)
	assert.Equal(t, "zeta", pools[1].Name)

	// Empty namespace lists everything
	all, err := st.ListPools(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_ServerCRUD(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	server := testServer("git-tools-x7f2p", "default", "git-tools")
	require.NoError(t, st.CreateServer(ctx, server))

	got, err := st.GetServer(ctx, "git-tools-x7f2p", "default")
	require.NoError(t, err)
	assert.Equal(t, "git-tools", got.Spec.PoolRef)
	assert.Equal(t, corralv1alpha1.ServerPhase(""), got.Status.Phase)

	got.Status.Phase = corralv1alpha1.PhaseRunning
	require.NoError(t, st.UpdateServerStatus(ctx, got))

	got, err = st.GetServer(ctx, "git-tools-x7f2p", "default")
	require.NoError(t, err)
	assert.Equal(t, corralv1alpha1.PhaseRunning, got.Status.Phase)

	require.NoError(t, st.DeleteServer(ctx, "git-tools-x7f2p", "default"))
	_, err = st.GetServer(ctx, "git-tools-x7f2p", "default")
	assert.True(t, apierrors.IsNotFound(err))
}

func TestMemoryStore_ListServersInPool(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	require.NoError(t, st.CreateServer(ctx, testServer("a-1", "default", "pool-a")))
	require.NoError(t, st.CreateServer(ctx, testServer("a-2", "default", "pool-a")))
	require.NoError(t, st.CreateServer(ctx, testServer("b-1", "default", "pool-b")))
	require.NoError(t, st.CreateServer(ctx, testServer("a-3", "other", "pool-a")))

	members, err := st.ListServersInPool(ctx, "pool-a", "default")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a-1", members[0].Name)
	assert.Equal(t, "a-2", members[1].Name)

	none, err := st.ListServersInPool(ctx, "pool-c", "default")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_DeepCopyIsolation(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	require.NoError(t, st.CreatePool(ctx, testPool("git-tools", "default")))

	first, err := st.GetPool(ctx, "git-tools", "default")
	require.NoError(t, err)

	// Mutating the returned object must not change the stored state
	first.Spec.MaxServers = 99

	second, err := st.GetPool(ctx, "git-tools", "default")
	require.NoError(t, err)
	assert.Equal(t, int32(3), second.Spec.MaxServers)
}

func TestMemoryStore_ClientFacade(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	// Create via the generic client interface
	pool := testPool("git-tools", "default")
	require.NoError(t, st.Create(ctx, pool))

	// Get via the generic client interface
	fetched := &corralv1alpha1.MCPServerPool{}
	key := types.NamespacedName{Name: "git-tools", Namespace: "default"}
	require.NoError(t, st.Get(ctx, key, fetched))
	assert.Equal(t, "git-tools", fetched.Name)

	// List via the generic client interface with namespace option
	list := &corralv1alpha1.MCPServerPoolList{}
	require.NoError(t, st.List(ctx, list, client.InNamespace("default")))
	assert.Len(t, list.Items, 1)

	// Status update goes through the status writer
	fetched.Status.Phase = corralv1alpha1.PoolReady
	require.NoError(t, st.Status().Update(ctx, fetched))

	again := &corralv1alpha1.MCPServerPool{}
	require.NoError(t, st.Get(ctx, key, again))
	assert.Equal(t, corralv1alpha1.PoolReady, again.Status.Phase)

	// Patch falls back to update
	again.Spec.MaxServers = 7
	require.NoError(t, st.Patch(ctx, again, client.Merge))

	// Unsupported operations return errors
	assert.Error(t, st.DeleteAllOf(ctx, &corralv1alpha1.MCPServerPool{}))

	// Delete via the generic client interface
	require.NoError(t, st.Delete(ctx, again))
	err := st.Get(ctx, key, &corralv1alpha1.MCPServerPool{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestMemoryStore_UnsupportedType(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	err := st.Get(ctx, types.NamespacedName{Name: "x"}, &corev1.Pod{})
	assert.Error(t, err)
}

func TestMemoryStore_DefaultNamespace(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	server := testServer("no-namespace", "", "pool-a")
	require.NoError(t, st.CreateServer(ctx, server))

	got, err := st.GetServer(ctx, "no-namespace", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", got.Namespace)
}

func TestMemoryStore_GroupVersionKindFor(t *testing.T) {
	st := NewMemoryStore()

	gvk, err := st.GroupVersionKindFor(&corralv1alpha1.MCPServer{})
	require.NoError(t, err)
	assert.Equal(t, "MCPServer", gvk.Kind)
	assert.Equal(t, "corral.giantswarm.io", gvk.Group)

	gvk, err = st.GroupVersionKindFor(&corralv1alpha1.MCPServerPool{})
	require.NoError(t, err)
	assert.Equal(t, "MCPServerPool", gvk.Kind)

	namespaced, err := st.IsObjectNamespaced(&corralv1alpha1.MCPServer{})
	require.NoError(t, err)
	assert.True(t, namespaced)
}
