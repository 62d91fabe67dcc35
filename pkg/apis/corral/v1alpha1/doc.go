// Package v1alpha1 contains API Schema definitions for the corral v1alpha1 API group.
//
// This package defines the Kubernetes Custom Resource Definitions (CRDs) for
// corral's pooled MCP server management. The v1alpha1 API version represents the
// initial alpha release of the corral Kubernetes API and is subject to change.
//
// # API Group: corral.giantswarm.io/v1alpha1
//
// ## MCPServerPool
//
// MCPServerPool declares a class of ephemeral MCP servers: the container template
// they run from, the transport they speak, how many may run at once, and how long
// an instance may sit idle before it becomes an eviction candidate.
//
// Example:
//
//	apiVersion: corral.giantswarm.io/v1alpha1
//	kind: MCPServerPool
//	metadata:
//	  name: git-tools
//	  namespace: default
//	spec:
//	  transport: streamable-http
//	  maxServers: 5
//	  idleTimeout: 5m
//	  template:
//	    image: ghcr.io/example/git-tools:1.4.2
//	    port: 8080
//
// ## MCPServer
//
// MCPServer represents one ephemeral server instance drawn from a pool. Instances
// are created on demand, backed by a Pod and a Service while they run, and carry
// the bridge's activity counters in their status so the controller can make
// idle-eviction decisions.
//
// Example:
//
//	apiVersion: corral.giantswarm.io/v1alpha1
//	kind: MCPServer
//	metadata:
//	  name: git-tools-x7f2p
//	  namespace: default
//	spec:
//	  poolRef: git-tools
//
// +kubebuilder:object:generate=true
// +groupName=corral.giantswarm.io
package v1alpha1
