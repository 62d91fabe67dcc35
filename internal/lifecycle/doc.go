// Package lifecycle holds the pure decision logic for server instance phases.
//
// The phase graph is:
//
//	Pending → Starting → Running ⇄ Idle → Stopping → Stopped
//
// with Failed reachable from the bound phases and recoverable back through
// Pending on a spec change. Decide is a pure function from an observed
// snapshot (record, workload state, bridge activity, pool policy) to the next
// phase and the substrate action required; it performs no I/O, so every
// transition is unit-testable without a cluster.
//
// The controller owns applying decisions: it gathers the Input, calls Decide,
// executes the Action through the workload manager and writes the phase back.
// The bridge never calls into this package; activity flows in through the
// snapshot only, keeping the controller the single writer of lifecycle state.
package lifecycle
