package workload

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"corral/internal/api"
	"corral/internal/lifecycle"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

const (
	// containerName is the single container every instance pod runs.
	containerName = "mcp-server"

	// substrateRetries bounds the retry attempts around each substrate call
	// before the failure surfaces as a SubstrateError.
	substrateRetries = 3

	substrateRetryInitial = 200 * time.Millisecond
	substrateRetryMax     = 2 * time.Second

	// readinessInitialDelay keeps the TCP readiness probe from firing before
	// typical MCP servers finish binding their port.
	readinessInitialDelay = 1
	readinessPeriod       = 5

	// defaultTemplatePort mirrors the CRD default, which only applies when
	// the API server performs defaulting.
	defaultTemplatePort = 8080
)

// kubernetesManager implements Manager against the Kubernetes API. Each
// instance gets one Pod and one ClusterIP Service, both stamped with the
// owner labels and an owner reference to the instance record.
type kubernetesManager struct {
	client client.Client
}

// NewKubernetesManager creates a Manager backed by the Kubernetes API.
// The client must have corev1 types in its scheme.
func NewKubernetesManager(c client.Client) Manager {
	return &kubernetesManager{client: c}
}

// Ensure creates the instance's Pod and Service if absent. Existing objects
// owned by the instance are left alone, so a partially created workload
// converges on the next call.
func (m *kubernetesManager) Ensure(ctx context.Context, server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) (string, error) {
	pod := buildPod(server, pool)
	if err := m.createIfAbsent(ctx, "ensure pod", pod, &corev1.Pod{}, server.Name); err != nil {
		return "", err
	}

	service := buildService(server, pool)
	if err := m.createIfAbsent(ctx, "ensure service", service, &corev1.Service{}, server.Name); err != nil {
		return "", err
	}

	return endpointURL(server.Name, server.Namespace, templatePort(pool)), nil
}

// Status probes the instance's Pod and reports a workload state for the
// lifecycle machine. The endpoint is derived from the Service when present.
func (m *kubernetesManager) Status(ctx context.Context, server *corralv1alpha1.MCPServer) (Status, error) {
	pod := &corev1.Pod{}
	key := types.NamespacedName{Name: server.Name, Namespace: server.Namespace}

	if err := m.client.Get(ctx, key, pod); err != nil {
		if apierrors.IsNotFound(err) {
			return Status{State: lifecycle.WorkloadMissing}, nil
		}
		return Status{}, api.NewSubstrateError("get pod", err)
	}

	if !ownedBy(pod.Labels, server.Name) {
		// A foreign pod squats on the instance's name. Never adopt it.
		return Status{State: lifecycle.WorkloadFailed, Reason: fmt.Sprintf("pod %s exists but is not managed by corral", server.Name)}, nil
	}

	switch pod.Status.Phase {
	case corev1.PodFailed:
		return Status{State: lifecycle.WorkloadFailed, Reason: podFailureReason(pod)}, nil
	case corev1.PodSucceeded:
		// MCP servers are long-running; a clean exit still means the workload
		// is gone.
		return Status{State: lifecycle.WorkloadFailed, Reason: "server process exited"}, nil
	}

	if terminated := terminatedContainerReason(pod); terminated != "" {
		return Status{State: lifecycle.WorkloadFailed, Reason: terminated}, nil
	}

	if !podReady(pod) {
		return Status{State: lifecycle.WorkloadPending, Reason: "pod not ready"}, nil
	}

	endpoint, err := m.serviceEndpoint(ctx, server)
	if err != nil {
		return Status{}, err
	}
	if endpoint == "" {
		// Pod ready but the service is still missing; Ensure will fill it in.
		return Status{State: lifecycle.WorkloadPending, Reason: "service not created"}, nil
	}

	return Status{State: lifecycle.WorkloadReady, Endpoint: endpoint}, nil
}

// Teardown deletes the instance's Pod and Service. Absent objects and
// objects not owned by the instance are skipped.
func (m *kubernetesManager) Teardown(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	if err := m.deleteOwned(ctx, "delete service", &corev1.Service{}, server); err != nil {
		return err
	}
	if err := m.deleteOwned(ctx, "delete pod", &corev1.Pod{}, server); err != nil {
		return err
	}
	return nil
}

// createIfAbsent creates desired unless an object of the same name already
// exists. Ownership of an existing object is verified so a foreign object is
// surfaced instead of silently reused.
func (m *kubernetesManager) createIfAbsent(ctx context.Context, op string, desired, existing client.Object, serverName string) error {
	key := types.NamespacedName{Name: desired.GetName(), Namespace: desired.GetNamespace()}

	err := m.client.Get(ctx, key, existing)
	if err == nil {
		if !ownedBy(existing.GetLabels(), serverName) {
			return api.NewSubstrateError(op, fmt.Errorf("object %s exists but is not managed by corral", key))
		}
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return api.NewSubstrateError(op, err)
	}

	return m.withRetry(ctx, op, func() error {
		err := m.client.Create(ctx, desired)
		if apierrors.IsAlreadyExists(err) {
			// Lost a race with a concurrent Ensure; the object is there.
			return nil
		}
		return err
	})
}

// deleteOwned deletes the named object of the given type when the instance
// owns it. NotFound is success.
func (m *kubernetesManager) deleteOwned(ctx context.Context, op string, obj client.Object, server *corralv1alpha1.MCPServer) error {
	key := types.NamespacedName{Name: server.Name, Namespace: server.Namespace}

	err := m.client.Get(ctx, key, obj)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return api.NewSubstrateError(op, err)
	}

	if !ownedBy(obj.GetLabels(), server.Name) {
		logging.Warn("Workload", "Skipping %s for %s/%s: object not managed by corral", op, server.Namespace, server.Name)
		return nil
	}

	return m.withRetry(ctx, op, func() error {
		err := m.client.Delete(ctx, obj)
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// serviceEndpoint reads the instance's Service and derives the endpoint URL
// from its port. Empty when the Service does not exist.
func (m *kubernetesManager) serviceEndpoint(ctx context.Context, server *corralv1alpha1.MCPServer) (string, error) {
	service := &corev1.Service{}
	key := types.NamespacedName{Name: server.Name, Namespace: server.Namespace}

	if err := m.client.Get(ctx, key, service); err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", api.NewSubstrateError("get service", err)
	}
	if len(service.Spec.Ports) == 0 {
		return "", nil
	}

	return endpointURL(server.Name, server.Namespace, service.Spec.Ports[0].Port), nil
}

// withRetry runs a substrate call with bounded exponential backoff. Errors
// Kubernetes reports as permanent (invalid object, forbidden) short-circuit.
func (m *kubernetesManager) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = substrateRetryInitial
	policy.MaxInterval = substrateRetryMax

	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if apierrors.IsInvalid(err) || apierrors.IsBadRequest(err) || apierrors.IsForbidden(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, substrateRetries), ctx))

	if err != nil {
		return api.NewSubstrateError(op, err)
	}
	return nil
}

// ownerLabels returns the labels stamped on every object of an instance.
func ownerLabels(server *corralv1alpha1.MCPServer) map[string]string {
	return map[string]string{
		ServerLabel: server.Name,
		PoolLabel:   server.Spec.PoolRef,
	}
}

// ownedBy reports whether an object's labels mark it as belonging to the
// named instance.
func ownedBy(labels map[string]string, serverName string) bool {
	return labels[ServerLabel] == serverName
}

// ownerReference ties a substrate object to its instance record so cluster
// garbage collection removes orphans if the record is force-deleted.
func ownerReference(server *corralv1alpha1.MCPServer) []metav1.OwnerReference {
	if server.UID == "" {
		return nil
	}
	controller := true
	return []metav1.OwnerReference{{
		APIVersion: corralv1alpha1.GroupVersion.String(),
		Kind:       "MCPServer",
		Name:       server.Name,
		UID:        server.UID,
		Controller: &controller,
	}}
}

// buildPod renders the pool template into the instance's Pod. Stdio servers
// are wrapped with the corral shim so their stdio is served over SSE on the
// template port; the image must carry the corral binary for that.
func buildPod(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) *corev1.Pod {
	template := pool.Spec.Template
	port := templatePort(pool)

	command := template.Command
	args := template.Args
	if server.EffectiveTransport(pool) == corralv1alpha1.TransportStdio {
		command, args = shimCommand(port, template.Command, template.Args)
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:            server.Name,
			Namespace:       server.Namespace,
			Labels:          ownerLabels(server),
			OwnerReferences: ownerReference(server),
		},
		Spec: corev1.PodSpec{
			// The controller owns restarts; kubelet restarting containers
			// behind its back would hide crash loops from the lifecycle.
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:      containerName,
				Image:     template.Image,
				Command:   command,
				Args:      args,
				Env:       buildEnv(server, pool),
				Resources: template.Resources,
				Ports: []corev1.ContainerPort{{
					Name:          "mcp",
					ContainerPort: port,
					Protocol:      corev1.ProtocolTCP,
				}},
				ReadinessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						TCPSocket: &corev1.TCPSocketAction{
							Port: intstr.FromInt32(port),
						},
					},
					InitialDelaySeconds: readinessInitialDelay,
					PeriodSeconds:       readinessPeriod,
				},
			}},
		},
	}
}

// buildService renders the instance's ClusterIP Service, targeting the pod
// through the server owner label.
func buildService(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) *corev1.Service {
	port := templatePort(pool)

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            server.Name,
			Namespace:       server.Namespace,
			Labels:          ownerLabels(server),
			OwnerReferences: ownerReference(server),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{ServerLabel: server.Name},
			Ports: []corev1.ServicePort{{
				Name:       "mcp",
				Port:       port,
				TargetPort: intstr.FromInt32(port),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

// buildEnv renders the merged instance environment as container env vars.
func buildEnv(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) []corev1.EnvVar {
	merged := mergedEnv(server, pool)

	env := make([]corev1.EnvVar, 0, len(merged))
	for _, k := range sortedKeys(merged) {
		env = append(env, corev1.EnvVar{Name: k, Value: merged[k]})
	}
	return env
}

// mergedEnv merges pool template env with instance env, instance entries
// winning.
func mergedEnv(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) map[string]string {
	merged := make(map[string]string, len(pool.Spec.Template.Env)+len(server.Spec.Env))
	for k, v := range pool.Spec.Template.Env {
		merged[k] = v
	}
	for k, v := range server.Spec.Env {
		merged[k] = v
	}
	return merged
}

// sortedKeys keeps env rendering deterministic across builds.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shimCommand wraps a stdio server command so the corral shim serves it over
// SSE on the given port. The shim becomes the entrypoint and the original
// command moves behind the -- separator.
func shimCommand(port int32, command, args []string) ([]string, []string) {
	entrypoint := []string{"corral", "shim", "--listen", fmt.Sprintf(":%d", port), "--"}
	passthrough := make([]string, 0, len(command)+len(args))
	passthrough = append(passthrough, command...)
	passthrough = append(passthrough, args...)
	return entrypoint, passthrough
}

// templatePort returns the pool template port with the API default applied.
func templatePort(pool *corralv1alpha1.MCPServerPool) int32 {
	if pool.Spec.Template.Port > 0 {
		return pool.Spec.Template.Port
	}
	return defaultTemplatePort
}

// endpointURL is the cluster-internal address of an instance's Service.
func endpointURL(name, namespace string, port int32) string {
	return fmt.Sprintf("http://%s.%s.svc:%d", name, namespace, port)
}

// podReady reports whether the pod's Ready condition is true.
func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// podFailureReason extracts an operator-facing reason from a failed pod.
func podFailureReason(pod *corev1.Pod) string {
	if pod.Status.Reason != "" {
		if pod.Status.Message != "" {
			return fmt.Sprintf("%s: %s", pod.Status.Reason, pod.Status.Message)
		}
		return pod.Status.Reason
	}
	if terminated := terminatedContainerReason(pod); terminated != "" {
		return terminated
	}
	return "pod failed"
}

// terminatedContainerReason reports a terminated server container, which
// counts as workload failure even while the pod object itself lingers.
func terminatedContainerReason(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name != containerName {
			continue
		}
		if cs.State.Terminated != nil {
			t := cs.State.Terminated
			if t.Reason != "" {
				return fmt.Sprintf("container terminated: %s (exit code %d)", t.Reason, t.ExitCode)
			}
			return fmt.Sprintf("container terminated with exit code %d", t.ExitCode)
		}
		if waiting := cs.State.Waiting; waiting != nil && waiting.Reason == "ImagePullBackOff" {
			return fmt.Sprintf("image pull failed: %s", waiting.Message)
		}
	}
	return ""
}
