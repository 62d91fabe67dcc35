package controller

import (
	"sync"
	"time"

	"corral/pkg/logging"
)

// ControllerMetrics tracks reconciliation-related metrics for monitoring and
// debugging.
//
// This provides visibility into reconciliation patterns, status sync failures,
// and overall controller health. Metrics are tracked per-resource-type to
// enable targeted debugging.
type ControllerMetrics struct {
	mu sync.RWMutex

	// Per-resource-type metrics
	resourceMetrics map[ResourceType]*resourceTypeMetrics

	// Global counters for summary metrics
	totalReconcileAttempts   int64
	totalReconcileSuccesses  int64
	totalReconcileFailures   int64
	totalStatusSyncAttempts  int64
	totalStatusSyncSuccesses int64
	totalStatusSyncFailures  int64
}

// resourceTypeMetrics holds reconciliation metrics for a specific resource type.
type resourceTypeMetrics struct {
	ResourceType        ResourceType
	ReconcileAttempts   int64
	ReconcileSuccesses  int64
	ReconcileFailures   int64
	StatusSyncAttempts  int64
	StatusSyncSuccesses int64
	StatusSyncFailures  int64
	LastReconcileAt     time.Time
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	LastStatusSyncAt    time.Time
}

// NewControllerMetrics creates a new ControllerMetrics instance.
func NewControllerMetrics() *ControllerMetrics {
	return &ControllerMetrics{
		resourceMetrics: make(map[ResourceType]*resourceTypeMetrics),
	}
}

// getOrCreateResourceMetrics returns existing metrics for a resource type or
// creates new ones. Callers must hold the write lock.
func (m *ControllerMetrics) getOrCreateResourceMetrics(resourceType ResourceType) *resourceTypeMetrics {
	if metrics, exists := m.resourceMetrics[resourceType]; exists {
		return metrics
	}

	metrics := &resourceTypeMetrics{
		ResourceType: resourceType,
	}
	m.resourceMetrics[resourceType] = metrics
	return metrics
}

// RecordReconcileAttempt records the start of a reconcile pass.
func (m *ControllerMetrics) RecordReconcileAttempt(resourceType ResourceType, resourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateResourceMetrics(resourceType)
	metrics.ReconcileAttempts++
	metrics.LastReconcileAt = time.Now()
	m.totalReconcileAttempts++

	logging.Debug("ControllerMetrics", "Reconcile attempt for %s/%s", resourceType, resourceName)
}

// RecordReconcileSuccess records a reconcile pass that completed without error.
func (m *ControllerMetrics) RecordReconcileSuccess(resourceType ResourceType, resourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateResourceMetrics(resourceType)
	metrics.ReconcileSuccesses++
	metrics.LastSuccessAt = time.Now()
	m.totalReconcileSuccesses++
}

// RecordReconcileFailure records a reconcile pass that returned an error.
//
// High failure rates for one resource type usually mean the substrate is
// rejecting that type's operations: RBAC gaps, image pull failures, or an
// unreachable API server.
func (m *ControllerMetrics) RecordReconcileFailure(resourceType ResourceType, resourceName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateResourceMetrics(resourceType)
	metrics.ReconcileFailures++
	metrics.LastFailureAt = time.Now()
	m.totalReconcileFailures++

	logging.Warn("ControllerMetrics", "Reconcile failure for %s/%s: %s (failures: %d)",
		resourceType, resourceName, reason, metrics.ReconcileFailures)
}

// RecordStatusSyncAttempt records a status sync attempt.
func (m *ControllerMetrics) RecordStatusSyncAttempt(resourceType ResourceType, resourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateResourceMetrics(resourceType)
	metrics.StatusSyncAttempts++
	metrics.LastStatusSyncAt = time.Now()
	m.totalStatusSyncAttempts++
}

// RecordStatusSyncSuccess records a successful status sync.
func (m *ControllerMetrics) RecordStatusSyncSuccess(resourceType ResourceType, resourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateResourceMetrics(resourceType)
	metrics.StatusSyncSuccesses++
	m.totalStatusSyncSuccesses++
}

// RecordStatusSyncFailure records a failed status sync attempt.
//
// Failures here mean the conflict retry loop gave up, which points at API
// server trouble rather than ordinary write contention.
func (m *ControllerMetrics) RecordStatusSyncFailure(resourceType ResourceType, resourceName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateResourceMetrics(resourceType)
	metrics.StatusSyncFailures++
	m.totalStatusSyncFailures++

	logging.Warn("ControllerMetrics", "Status sync failure for %s/%s: %s (failures: %d)",
		resourceType, resourceName, reason, metrics.StatusSyncFailures)
}

// ControllerMetricsSummary provides a summary of reconciliation metrics.
type ControllerMetricsSummary struct {
	TotalReconcileAttempts   int64                    `json:"total_reconcile_attempts"`
	TotalReconcileSuccesses  int64                    `json:"total_reconcile_successes"`
	TotalReconcileFailures   int64                    `json:"total_reconcile_failures"`
	TotalStatusSyncAttempts  int64                    `json:"total_status_sync_attempts"`
	TotalStatusSyncSuccesses int64                    `json:"total_status_sync_successes"`
	TotalStatusSyncFailures  int64                    `json:"total_status_sync_failures"`
	PerResourceTypeMetrics   []ResourceTypeMetricView `json:"per_resource_type_metrics"`
	StatusSyncFailureRate    float64                  `json:"status_sync_failure_rate"`
	ReconcileFailureRate     float64                  `json:"reconcile_failure_rate"`
}

// ResourceTypeMetricView is a read-only view of resource-type-specific metrics.
type ResourceTypeMetricView struct {
	ResourceType        ResourceType `json:"resource_type"`
	ReconcileAttempts   int64        `json:"reconcile_attempts"`
	ReconcileSuccesses  int64        `json:"reconcile_successes"`
	ReconcileFailures   int64        `json:"reconcile_failures"`
	StatusSyncAttempts  int64        `json:"status_sync_attempts"`
	StatusSyncSuccesses int64        `json:"status_sync_successes"`
	StatusSyncFailures  int64        `json:"status_sync_failures"`
	LastReconcileAt     time.Time    `json:"last_reconcile_at,omitempty"`
	LastSuccessAt       time.Time    `json:"last_success_at,omitempty"`
	LastFailureAt       time.Time    `json:"last_failure_at,omitempty"`
	LastStatusSyncAt    time.Time    `json:"last_status_sync_at,omitempty"`
}

// Summary returns a point-in-time view of all counters.
func (m *ControllerMetrics) Summary() ControllerMetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := ControllerMetricsSummary{
		TotalReconcileAttempts:   m.totalReconcileAttempts,
		TotalReconcileSuccesses:  m.totalReconcileSuccesses,
		TotalReconcileFailures:   m.totalReconcileFailures,
		TotalStatusSyncAttempts:  m.totalStatusSyncAttempts,
		TotalStatusSyncSuccesses: m.totalStatusSyncSuccesses,
		TotalStatusSyncFailures:  m.totalStatusSyncFailures,
	}

	for _, rm := range m.resourceMetrics {
		summary.PerResourceTypeMetrics = append(summary.PerResourceTypeMetrics, ResourceTypeMetricView{
			ResourceType:        rm.ResourceType,
			ReconcileAttempts:   rm.ReconcileAttempts,
			ReconcileSuccesses:  rm.ReconcileSuccesses,
			ReconcileFailures:   rm.ReconcileFailures,
			StatusSyncAttempts:  rm.StatusSyncAttempts,
			StatusSyncSuccesses: rm.StatusSyncSuccesses,
			StatusSyncFailures:  rm.StatusSyncFailures,
			LastReconcileAt:     rm.LastReconcileAt,
			LastSuccessAt:       rm.LastSuccessAt,
			LastFailureAt:       rm.LastFailureAt,
			LastStatusSyncAt:    rm.LastStatusSyncAt,
		})
	}

	if m.totalReconcileAttempts > 0 {
		summary.ReconcileFailureRate = float64(m.totalReconcileFailures) / float64(m.totalReconcileAttempts)
	}
	if m.totalStatusSyncAttempts > 0 {
		summary.StatusSyncFailureRate = float64(m.totalStatusSyncFailures) / float64(m.totalStatusSyncAttempts)
	}

	return summary
}

// Global metrics instance for use by reconcilers.
// This is initialized lazily and should be accessed via GetControllerMetrics().
var (
	globalControllerMetrics   *ControllerMetrics
	globalControllerMetricsMu sync.RWMutex
)

// GetControllerMetrics returns the global controller metrics instance.
// It creates the instance on first access (lazy initialization).
func GetControllerMetrics() *ControllerMetrics {
	globalControllerMetricsMu.RLock()
	if globalControllerMetrics != nil {
		defer globalControllerMetricsMu.RUnlock()
		return globalControllerMetrics
	}
	globalControllerMetricsMu.RUnlock()

	globalControllerMetricsMu.Lock()
	defer globalControllerMetricsMu.Unlock()

	// Double-check after acquiring write lock
	if globalControllerMetrics == nil {
		globalControllerMetrics = NewControllerMetrics()
	}
	return globalControllerMetrics
}
