// Package api provides the central API layer for corral's Service Locator Pattern.
//
// This package serves as the single point of communication between corral's
// packages, preventing direct inter-package dependencies. All cross-package
// functionality is accessed through handler interfaces registered with this
// central API layer.
//
// # Service Locator Pattern
//
// The API package implements the Service Locator Pattern used for all
// inter-package communication in corral:
//
//  1. **Handler Interfaces** - Define contracts for each capability
//     (PoolManagerHandler, ReconcileManagerHandler, BridgeHandler)
//
//  2. **Handler Registry** - Central registry for handler implementations
//     with thread-safe registration and access
//
//  3. **Adapter Pattern** - Implementation packages provide adapters that
//     implement handler interfaces and register with the API layer
//
// This architecture ensures:
//   - Zero circular dependencies (api doesn't import internal packages)
//   - Clean separation between controller, bridge and store
//   - Enhanced testability through handler mocking
//
// # Handler Interfaces
//
//   - **PoolManagerHandler**: Pool and server instance operations
//     (create/list pools, start/stop servers, pool lookup)
//   - **ReconcileManagerHandler**: Reconciliation triggering and status
//   - **BridgeHandler**: Session management and activity snapshots
//
// # Error Taxonomy
//
// The package defines the error kinds shared across components:
//
//   - NotFoundError: a referenced pool, server or session does not exist
//   - CapacityError: a pool is at its maxServers cap
//   - SubstrateError: a Kubernetes operation failed (retryable)
//   - SpecError: a declared record is invalid (not retryable)
//   - TransportError: a bridge relay or backing channel failed
//
// Each kind has an errors.As based predicate (IsNotFound, IsCapacityExceeded,
// IsSubstrate, IsInvalidSpec, IsTransport) that sees through wrapping.
package api
