package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// TransportType identifies how bridge sessions reach a server instance.
type TransportType string

const (
	// TransportStdio runs the server command behind the in-pod stdio shim.
	// The pool template image must contain the corral binary.
	TransportStdio TransportType = "stdio"

	// TransportSSE connects to the server's HTTP port using the SSE transport.
	TransportSSE TransportType = "sse"

	// TransportStreamableHTTP connects to the server's HTTP port using the
	// streamable HTTP transport.
	TransportStreamableHTTP TransportType = "streamable-http"
)

// RestartPolicy controls what the controller does with a failed instance.
type RestartPolicy string

const (
	// RestartNever leaves a failed instance in the Failed phase until an
	// explicit start request or spec change re-admits it.
	RestartNever RestartPolicy = "Never"

	// RestartAlways re-admits a failed instance through Pending automatically,
	// subject to the reconcile backoff.
	RestartAlways RestartPolicy = "Always"
)

// ServerTemplate describes the workload a pool stamps out per server instance.
type ServerTemplate struct {
	// Image is the container image that runs the MCP server.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image" yaml:"image"`

	// Command overrides the image entrypoint. For stdio pools this is the
	// command the shim executes and bridges.
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are appended to the command.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env contains environment variables set on every instance. Instance-level
	// env entries override template entries with the same key.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Port is the container port the server (or the shim) listens on.
	// +kubebuilder:default=8080
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port,omitempty" yaml:"port,omitempty"`

	// Resources are the compute resources requested for each instance.
	Resources corev1.ResourceRequirements `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// MCPServerPoolSpec defines the desired state of MCPServerPool
type MCPServerPoolSpec struct {
	// Transport is the default transport for instances of this pool.
	// Individual servers may override it.
	// +kubebuilder:default=streamable-http
	// +kubebuilder:validation:Enum=stdio;streamable-http;sse
	Transport TransportType `json:"transport,omitempty" yaml:"transport,omitempty"`

	// MaxServers caps how many instances of this pool may hold a workload at
	// once. Start requests beyond the cap are rejected and instances already
	// admitted stay Pending until capacity frees up.
	// +kubebuilder:default=5
	// +kubebuilder:validation:Minimum=1
	MaxServers int32 `json:"maxServers,omitempty" yaml:"maxServers,omitempty"`

	// IdleTimeout is how long an instance may go without bridge activity
	// before it is considered idle.
	// +kubebuilder:default="5m"
	IdleTimeout metav1.Duration `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`

	// StoppedRetention is how long a Stopped instance record is kept before
	// the controller deletes it.
	// +kubebuilder:default="10m"
	StoppedRetention metav1.Duration `json:"stoppedRetention,omitempty" yaml:"stoppedRetention,omitempty"`

	// RestartPolicy controls whether failed instances are re-admitted
	// automatically.
	// +kubebuilder:default=Never
	// +kubebuilder:validation:Enum=Never;Always
	RestartPolicy RestartPolicy `json:"restartPolicy,omitempty" yaml:"restartPolicy,omitempty"`

	// Template is the workload stamped out per instance.
	// +kubebuilder:validation:Required
	Template ServerTemplate `json:"template" yaml:"template"`

	// Description provides a human-readable description of this pool's purpose.
	// +kubebuilder:validation:MaxLength=500
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PoolPhase summarizes a pool's capacity situation.
type PoolPhase string

const (
	// PoolReady means the pool has spare capacity.
	PoolReady PoolPhase = "Ready"

	// PoolSaturated means every slot is taken by a bound instance.
	PoolSaturated PoolPhase = "Saturated"
)

// MCPServerPoolStatus defines the observed state of MCPServerPool
type MCPServerPoolStatus struct {
	// Phase summarizes the pool's capacity situation
	// +kubebuilder:validation:Enum=Ready;Saturated
	Phase PoolPhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// ActiveServers counts instances currently holding a workload
	// (Starting, Running, Idle or Stopping).
	ActiveServers int32 `json:"activeServers,omitempty" yaml:"activeServers,omitempty"`

	// IdleServers counts instances currently in the Idle phase.
	IdleServers int32 `json:"idleServers,omitempty" yaml:"idleServers,omitempty"`

	// TotalServers counts all instance records referencing this pool.
	TotalServers int32 `json:"totalServers,omitempty" yaml:"totalServers,omitempty"`

	// LastReconciled records when the controller last evaluated this pool.
	LastReconciled *metav1.Time `json:"lastReconciled,omitempty" yaml:"lastReconciled,omitempty"`

	// LastError contains any error message from the most recent pool operation
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// Conditions represent the latest available observations of the pool's current state
	Conditions []metav1.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=mcpool
// +kubebuilder:printcolumn:name="Transport",type="string",JSONPath=".spec.transport"
// +kubebuilder:printcolumn:name="Max",type="integer",JSONPath=".spec.maxServers"
// +kubebuilder:printcolumn:name="Active",type="integer",JSONPath=".status.activeServers"
// +kubebuilder:printcolumn:name="Idle",type="integer",JSONPath=".status.idleServers"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"
// +kubebuilder:validation:XValidation:rule="self.spec.transport != 'stdio' || has(self.spec.template.command)",message="template.command is required when transport is stdio"

// MCPServerPool is the Schema for the mcpserverpools API
type MCPServerPool struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   MCPServerPoolSpec   `json:"spec,omitempty"`
	Status MCPServerPoolStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// MCPServerPoolList contains a list of MCPServerPool
type MCPServerPoolList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []MCPServerPool `json:"items"`
}

func init() {
	SchemeBuilder.Register(&MCPServerPool{}, &MCPServerPoolList{})
}
