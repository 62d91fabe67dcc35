package controller

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"corral/internal/store"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

// statusSyncRetryBackoff bounds the conflict retry loop on status writes.
// Conflicts are ordinary here: the API server bumps resourceVersion on every
// spec update, and bridge-driven reconciles race the informer-driven ones.
var statusSyncRetryBackoff = wait.Backoff{
	Steps:    4,
	Duration: 10 * time.Millisecond,
	Factor:   5.0,
	Jitter:   0.1,
}

// syncServerStatus writes a server's status subresource with conflict retry.
// The apply function runs against a freshly fetched record on every attempt,
// so it must write the full computed status rather than mutate incrementally.
//
// A record deleted mid-sync is not an error: there is nothing left to record.
func syncServerStatus(ctx context.Context, st store.Store, name, namespace string, apply func(*corralv1alpha1.MCPServer)) error {
	metrics := GetControllerMetrics()
	metrics.RecordStatusSyncAttempt(ResourceTypeMCPServer, name)

	err := retry.OnError(statusSyncRetryBackoff, apierrors.IsConflict, func() error {
		current, err := st.GetServer(ctx, name, namespace)
		if err != nil {
			return err
		}
		apply(current)
		return st.UpdateServerStatus(ctx, current)
	})
	if apierrors.IsNotFound(err) {
		logging.Debug("StatusSync", "Server %s/%s vanished during status sync", namespace, name)
		return nil
	}
	if err != nil {
		metrics.RecordStatusSyncFailure(ResourceTypeMCPServer, name, err.Error())
		return err
	}

	metrics.RecordStatusSyncSuccess(ResourceTypeMCPServer, name)
	return nil
}

// syncPoolStatus is syncServerStatus for pool records.
func syncPoolStatus(ctx context.Context, st store.Store, name, namespace string, apply func(*corralv1alpha1.MCPServerPool)) error {
	metrics := GetControllerMetrics()
	metrics.RecordStatusSyncAttempt(ResourceTypeMCPServerPool, name)

	err := retry.OnError(statusSyncRetryBackoff, apierrors.IsConflict, func() error {
		current, err := st.GetPool(ctx, name, namespace)
		if err != nil {
			return err
		}
		apply(current)
		return st.UpdatePoolStatus(ctx, current)
	})
	if apierrors.IsNotFound(err) {
		logging.Debug("StatusSync", "Pool %s/%s vanished during status sync", namespace, name)
		return nil
	}
	if err != nil {
		metrics.RecordStatusSyncFailure(ResourceTypeMCPServerPool, name, err.Error())
		return err
	}

	metrics.RecordStatusSyncSuccess(ResourceTypeMCPServerPool, name)
	return nil
}
