package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// MCPServerSpec defines the desired state of MCPServer
type MCPServerSpec struct {
	// PoolRef names the MCPServerPool (same namespace) this instance is drawn
	// from. The pool supplies the workload template and lifecycle policy.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	PoolRef string `json:"poolRef" yaml:"poolRef"`

	// Transport overrides the pool's default transport for this instance.
	// +kubebuilder:validation:Enum=stdio;streamable-http;sse
	Transport TransportType `json:"transport,omitempty" yaml:"transport,omitempty"`

	// Env contains instance-level environment variables. Entries override
	// pool template entries with the same key.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Stop requests a graceful shutdown of this instance. The workload is torn
	// down and the record kept in the Stopped phase until it is restarted or
	// reaped. Clearing the flag re-admits the instance through Pending.
	// +kubebuilder:default=false
	Stop bool `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// ServerPhase is the lifecycle phase of a server instance.
type ServerPhase string

const (
	// PhasePending means the record exists but no workload has been admitted
	// yet, usually because the pool is at capacity.
	PhasePending ServerPhase = "Pending"

	// PhaseStarting means the workload exists but is not ready yet.
	PhaseStarting ServerPhase = "Starting"

	// PhaseRunning means the workload is ready and serving, or recently served,
	// bridge traffic.
	PhaseRunning ServerPhase = "Running"

	// PhaseIdle means the workload is ready but has seen no bridge activity
	// for the pool's idle timeout. Idle instances still serve traffic and are
	// the first eviction candidates under capacity pressure.
	PhaseIdle ServerPhase = "Idle"

	// PhaseStopping means workload teardown is in progress.
	PhaseStopping ServerPhase = "Stopping"

	// PhaseStopped means the workload is gone and the record is retained until
	// it is restarted or reaped.
	PhaseStopped ServerPhase = "Stopped"

	// PhaseFailed means the instance hit a terminal error. The reason is
	// recorded in the status.
	PhaseFailed ServerPhase = "Failed"
)

// Bound reports whether the phase implies a workload is (or should be) bound
// to the instance.
func (p ServerPhase) Bound() bool {
	switch p {
	case PhaseStarting, PhaseRunning, PhaseIdle, PhaseStopping:
		return true
	default:
		return false
	}
}

// Active reports whether the phase counts against the pool's maxServers.
// Stopping instances are on their way out and do not hold capacity.
func (p ServerPhase) Active() bool {
	switch p {
	case PhaseStarting, PhaseRunning, PhaseIdle:
		return true
	default:
		return false
	}
}

// MCPServerStatus defines the observed state of MCPServer
type MCPServerStatus struct {
	// Phase is the current lifecycle phase of the instance
	// +kubebuilder:validation:Enum=Pending;Starting;Running;Idle;Stopping;Stopped;Failed
	Phase ServerPhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// ObservedGeneration is the spec generation the controller last acted on.
	// A Failed instance is re-admitted when the spec generation moves past it.
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`

	// Endpoint is the cluster-internal URL the bridge uses to reach the
	// instance while a workload is bound.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// StartedAt records when the instance last became Running.
	StartedAt *metav1.Time `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`

	// StoppedAt records when the instance last reached Stopped.
	StoppedAt *metav1.Time `json:"stoppedAt,omitempty" yaml:"stoppedAt,omitempty"`

	// LastRequestAt records the most recent bridge activity for this instance.
	LastRequestAt *metav1.Time `json:"lastRequestAt,omitempty" yaml:"lastRequestAt,omitempty"`

	// TotalRequests counts JSON-RPC requests relayed to this instance over its
	// current incarnation.
	TotalRequests int64 `json:"totalRequests,omitempty" yaml:"totalRequests,omitempty"`

	// CurrentConnections counts open bridge sessions on this instance.
	CurrentConnections int32 `json:"currentConnections,omitempty" yaml:"currentConnections,omitempty"`

	// LastError contains any error message from the most recent instance operation
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// Conditions represent the latest available observations of the instance's current state
	Conditions []metav1.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=mcps
// +kubebuilder:printcolumn:name="Pool",type="string",JSONPath=".spec.poolRef"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Connections",type="integer",JSONPath=".status.currentConnections"
// +kubebuilder:printcolumn:name="Requests",type="integer",JSONPath=".status.totalRequests"
// +kubebuilder:printcolumn:name="Endpoint",type="string",JSONPath=".status.endpoint",priority=1
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// MCPServer is the Schema for the mcpservers API
type MCPServer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   MCPServerSpec   `json:"spec,omitempty"`
	Status MCPServerStatus `json:"status,omitempty"`
}

// EffectiveTransport resolves the transport for this instance against its
// pool's default.
func (s *MCPServer) EffectiveTransport(pool *MCPServerPool) TransportType {
	if s.Spec.Transport != "" {
		return s.Spec.Transport
	}
	if pool != nil && pool.Spec.Transport != "" {
		return pool.Spec.Transport
	}
	return TransportStreamableHTTP
}

// +kubebuilder:object:root=true

// MCPServerList contains a list of MCPServer
type MCPServerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []MCPServer `json:"items"`
}

func init() {
	SchemeBuilder.Register(&MCPServer{}, &MCPServerList{})
}
