package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"corral/internal/api"
	"corral/internal/lifecycle"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

func workloadPool() *corralv1alpha1.MCPServerPool {
	return &corralv1alpha1.MCPServerPool{
		ObjectMeta: metav1.ObjectMeta{Name: "git-tools", Namespace: "default"},
		Spec: corralv1alpha1.MCPServerPoolSpec{
			MaxServers: 3,
			Transport:  corralv1alpha1.TransportStreamableHTTP,
			Template: corralv1alpha1.ServerTemplate{
				Image: "ghcr.io/example/mcp-git:latest",
				Port:  9090,
				Env:   map[string]string{"GIT_DIR": "/repos", "LOG_LEVEL": "info"},
			},
		},
	}
}

func workloadServer() *corralv1alpha1.MCPServer {
	return &corralv1alpha1.MCPServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "git-tools-x7f2p",
			Namespace: "default",
			UID:       types.UID("4f2a9c1e-0001-4d6b-9a3e-2b8c7d5e6f00"),
		},
		Spec: corralv1alpha1.MCPServerSpec{PoolRef: "git-tools"},
	}
}

func newFakeClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	return fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
}

func TestBuildPod(t *testing.T) {
	server := workloadServer()
	pool := workloadPool()

	pod := buildPod(server, pool)

	assert.Equal(t, "git-tools-x7f2p", pod.Name)
	assert.Equal(t, "default", pod.Namespace)
	assert.Equal(t, "git-tools-x7f2p", pod.Labels[ServerLabel])
	assert.Equal(t, "git-tools", pod.Labels[PoolLabel])
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)

	require.Len(t, pod.Spec.Containers, 1)
	container := pod.Spec.Containers[0]
	assert.Equal(t, "mcp-server", container.Name)
	assert.Equal(t, "ghcr.io/example/mcp-git:latest", container.Image)
	require.Len(t, container.Ports, 1)
	assert.Equal(t, int32(9090), container.Ports[0].ContainerPort)

	require.NotNil(t, container.ReadinessProbe)
	require.NotNil(t, container.ReadinessProbe.TCPSocket)
	assert.Equal(t, int32(9090), container.ReadinessProbe.TCPSocket.Port.IntVal)

	require.Len(t, pod.OwnerReferences, 1)
	assert.Equal(t, "MCPServer", pod.OwnerReferences[0].Kind)
	assert.Equal(t, server.UID, pod.OwnerReferences[0].UID)
}

func TestBuildPodEnvMergesAndSorts(t *testing.T) {
	server := workloadServer()
	server.Spec.Env = map[string]string{"LOG_LEVEL": "debug", "API_KEY": "secret"}
	pool := workloadPool()

	pod := buildPod(server, pool)

	env := pod.Spec.Containers[0].Env
	require.Len(t, env, 3)
	assert.Equal(t, "API_KEY", env[0].Name)
	assert.Equal(t, "GIT_DIR", env[1].Name)
	assert.Equal(t, "LOG_LEVEL", env[2].Name)
	// Instance env wins over the template.
	assert.Equal(t, "debug", env[2].Value)
}

func TestBuildPodStdioWrapsShim(t *testing.T) {
	server := workloadServer()
	pool := workloadPool()
	pool.Spec.Transport = corralv1alpha1.TransportStdio
	pool.Spec.Template.Command = []string{"mcp-git"}
	pool.Spec.Template.Args = []string{"--verbose"}

	pod := buildPod(server, pool)

	container := pod.Spec.Containers[0]
	assert.Equal(t, []string{"corral", "shim", "--listen", ":9090", "--"}, container.Command)
	assert.Equal(t, []string{"mcp-git", "--verbose"}, container.Args)
}

func TestBuildPodNoOwnerRefWithoutUID(t *testing.T) {
	server := workloadServer()
	server.UID = ""

	pod := buildPod(server, workloadPool())

	assert.Empty(t, pod.OwnerReferences)
}

func TestBuildPodDefaultPort(t *testing.T) {
	pool := workloadPool()
	pool.Spec.Template.Port = 0

	pod := buildPod(workloadServer(), pool)

	assert.Equal(t, int32(8080), pod.Spec.Containers[0].Ports[0].ContainerPort)
}

func TestBuildService(t *testing.T) {
	service := buildService(workloadServer(), workloadPool())

	assert.Equal(t, "git-tools-x7f2p", service.Name)
	assert.Equal(t, corev1.ServiceTypeClusterIP, service.Spec.Type)
	assert.Equal(t, map[string]string{ServerLabel: "git-tools-x7f2p"}, service.Spec.Selector)
	require.Len(t, service.Spec.Ports, 1)
	assert.Equal(t, int32(9090), service.Spec.Ports[0].Port)
}

func TestEnsureCreatesPodAndService(t *testing.T) {
	c := newFakeClient(t)
	m := NewKubernetesManager(c)
	server := workloadServer()

	endpoint, err := m.Ensure(context.Background(), server, workloadPool())
	require.NoError(t, err)
	assert.Equal(t, "http://git-tools-x7f2p.default.svc:9090", endpoint)

	key := types.NamespacedName{Name: server.Name, Namespace: server.Namespace}
	pod := &corev1.Pod{}
	require.NoError(t, c.Get(context.Background(), key, pod))
	service := &corev1.Service{}
	require.NoError(t, c.Get(context.Background(), key, service))
}

func TestEnsureIsIdempotent(t *testing.T) {
	c := newFakeClient(t)
	m := NewKubernetesManager(c)
	server := workloadServer()
	pool := workloadPool()

	first, err := m.Ensure(context.Background(), server, pool)
	require.NoError(t, err)
	second, err := m.Ensure(context.Background(), server, pool)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureRejectsForeignPod(t *testing.T) {
	squatter := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "git-tools-x7f2p", Namespace: "default"},
	}
	m := NewKubernetesManager(newFakeClient(t, squatter))

	_, err := m.Ensure(context.Background(), workloadServer(), workloadPool())
	require.Error(t, err)
	assert.True(t, api.IsSubstrate(err))
	assert.Contains(t, err.Error(), "not managed by corral")
}

func TestStatusMissing(t *testing.T) {
	m := NewKubernetesManager(newFakeClient(t))

	status, err := m.Status(context.Background(), workloadServer())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadMissing, status.State)
}

func TestStatusPendingUntilReady(t *testing.T) {
	server := workloadServer()
	pod := buildPod(server, workloadPool())
	m := NewKubernetesManager(newFakeClient(t, pod))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadPending, status.State)
	assert.Equal(t, "pod not ready", status.Reason)
}

func TestStatusReadyWithEndpoint(t *testing.T) {
	server := workloadServer()
	pool := workloadPool()
	pod := buildPod(server, pool)
	pod.Status.Conditions = []corev1.PodCondition{
		{Type: corev1.PodReady, Status: corev1.ConditionTrue},
	}
	service := buildService(server, pool)
	m := NewKubernetesManager(newFakeClient(t, pod, service))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadReady, status.State)
	assert.Equal(t, "http://git-tools-x7f2p.default.svc:9090", status.Endpoint)
}

func TestStatusReadyPodWithoutService(t *testing.T) {
	server := workloadServer()
	pod := buildPod(server, workloadPool())
	pod.Status.Conditions = []corev1.PodCondition{
		{Type: corev1.PodReady, Status: corev1.ConditionTrue},
	}
	m := NewKubernetesManager(newFakeClient(t, pod))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadPending, status.State)
	assert.Equal(t, "service not created", status.Reason)
}

func TestStatusFailedPod(t *testing.T) {
	server := workloadServer()
	pod := buildPod(server, workloadPool())
	pod.Status.Phase = corev1.PodFailed
	pod.Status.Reason = "Evicted"
	pod.Status.Message = "node was under memory pressure"
	m := NewKubernetesManager(newFakeClient(t, pod))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadFailed, status.State)
	assert.Contains(t, status.Reason, "Evicted")
	assert.Contains(t, status.Reason, "memory pressure")
}

func TestStatusSucceededPodIsFailure(t *testing.T) {
	server := workloadServer()
	pod := buildPod(server, workloadPool())
	pod.Status.Phase = corev1.PodSucceeded
	m := NewKubernetesManager(newFakeClient(t, pod))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadFailed, status.State)
	assert.Equal(t, "server process exited", status.Reason)
}

func TestStatusTerminatedContainer(t *testing.T) {
	server := workloadServer()
	pod := buildPod(server, workloadPool())
	pod.Status.Phase = corev1.PodRunning
	pod.Status.ContainerStatuses = []corev1.ContainerStatus{{
		Name: "mcp-server",
		State: corev1.ContainerState{
			Terminated: &corev1.ContainerStateTerminated{ExitCode: 2, Reason: "Error"},
		},
	}}
	m := NewKubernetesManager(newFakeClient(t, pod))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadFailed, status.State)
	assert.Contains(t, status.Reason, "exit code 2")
}

func TestStatusForeignPodIsFailure(t *testing.T) {
	squatter := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "git-tools-x7f2p", Namespace: "default"},
	}
	m := NewKubernetesManager(newFakeClient(t, squatter))

	status, err := m.Status(context.Background(), workloadServer())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadFailed, status.State)
	assert.Contains(t, status.Reason, "not managed by corral")
}

func TestTeardownRemovesPodAndService(t *testing.T) {
	c := newFakeClient(t)
	m := NewKubernetesManager(c)
	server := workloadServer()

	_, err := m.Ensure(context.Background(), server, workloadPool())
	require.NoError(t, err)
	require.NoError(t, m.Teardown(context.Background(), server))

	key := types.NamespacedName{Name: server.Name, Namespace: server.Namespace}
	assert.Error(t, c.Get(context.Background(), key, &corev1.Pod{}))
	assert.Error(t, c.Get(context.Background(), key, &corev1.Service{}))

	status, err := m.Status(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WorkloadMissing, status.State)
}

func TestTeardownMissingIsNoop(t *testing.T) {
	m := NewKubernetesManager(newFakeClient(t))

	assert.NoError(t, m.Teardown(context.Background(), workloadServer()))
}

func TestTeardownLeavesForeignObjects(t *testing.T) {
	squatter := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "git-tools-x7f2p", Namespace: "default"},
	}
	c := newFakeClient(t, squatter)
	m := NewKubernetesManager(c)
	server := workloadServer()

	require.NoError(t, m.Teardown(context.Background(), server))

	key := types.NamespacedName{Name: server.Name, Namespace: server.Namespace}
	assert.NoError(t, c.Get(context.Background(), key, &corev1.Pod{}))
}
