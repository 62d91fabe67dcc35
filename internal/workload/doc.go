// Package workload runs the actual MCP server processes behind instance
// records. It is the only package that touches the execution substrate; the
// controller decides what should exist and this package makes it so.
//
// # Backends
//
// Two Manager implementations cover the two deployment modes:
//
//   - kubernetesManager renders each instance into one Pod and one
//     ClusterIP Service, both carrying the corral owner labels and an
//     owner reference to the MCPServer record. Pods never restart on their
//     own (RestartPolicy Never), the controller owns restart decisions
//     through the pool's restart policy.
//
//   - localManager runs the pool template command as a child process on
//     the host. It exists so corral works on a laptop with no cluster:
//     HTTP servers get their port via the PORT environment variable, stdio
//     servers are wrapped with the corral shim.
//
// NewManager picks the backend from the store's mode.
//
// # Contract
//
// All three operations are idempotent. Ensure on an existing workload and
// Teardown on a missing one succeed without side effects, so the controller
// can call them on every pass. Status never mutates anything.
//
// A workload that has stopped running, a failed pod or an exited process,
// reports WorkloadFailed and stays visible until Teardown removes it. The
// lifecycle machine decides whether that failure leads to a restart.
//
// Substrate failures surface as api.SubstrateError after bounded retries,
// which the controller treats as retryable.
package workload
