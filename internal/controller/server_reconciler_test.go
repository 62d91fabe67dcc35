package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"corral/internal/lifecycle"
	"corral/internal/store"
	"corral/internal/workload"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
)

// fakeWorkloadManager tracks Ensure and Teardown calls and serves canned
// workload statuses keyed by namespace/name.
type fakeWorkloadManager struct {
	mu        sync.Mutex
	statuses  map[string]workload.Status
	ensures   []string
	teardowns []string
	ensureErr error
}

func newFakeWorkloadManager() *fakeWorkloadManager {
	return &fakeWorkloadManager{statuses: make(map[string]workload.Status)}
}

func (f *fakeWorkloadManager) setStatus(key string, status workload.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[key] = status
}

func (f *fakeWorkloadManager) Ensure(ctx context.Context, server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	key := server.Namespace + "/" + server.Name
	f.ensures = append(f.ensures, key)
	status := f.statuses[key]
	if status.State == "" || status.State == lifecycle.WorkloadMissing {
		status.State = lifecycle.WorkloadPending
	}
	if status.Endpoint == "" {
		status.Endpoint = "http://" + server.Name + "." + server.Namespace + ".svc.cluster.local:8080/mcp"
	}
	f.statuses[key] = status
	return status.Endpoint, nil
}

func (f *fakeWorkloadManager) Status(ctx context.Context, server *corralv1alpha1.MCPServer) (workload.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[server.Namespace+"/"+server.Name]
	if !ok {
		return workload.Status{State: lifecycle.WorkloadMissing}, nil
	}
	return status, nil
}

func (f *fakeWorkloadManager) Teardown(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := server.Namespace + "/" + server.Name
	f.teardowns = append(f.teardowns, key)
	delete(f.statuses, key)
	return nil
}

func (f *fakeWorkloadManager) ensureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ensures)
}

func (f *fakeWorkloadManager) teardownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.teardowns)
}

func testPool(name string) *corralv1alpha1.MCPServerPool {
	return &corralv1alpha1.MCPServerPool{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
		},
		Spec: corralv1alpha1.MCPServerPoolSpec{
			Transport:        corralv1alpha1.TransportStreamableHTTP,
			MaxServers:       5,
			IdleTimeout:      metav1.Duration{Duration: 5 * time.Minute},
			StoppedRetention: metav1.Duration{Duration: 10 * time.Minute},
			RestartPolicy:    corralv1alpha1.RestartNever,
			Template: corralv1alpha1.ServerTemplate{
				Image: "ghcr.io/example/git-mcp:1.2.0",
				Port:  8080,
			},
		},
	}
}

func testServer(name, pool string) *corralv1alpha1.MCPServer {
	return &corralv1alpha1.MCPServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels:    map[string]string{workload.PoolLabel: pool},
		},
		Spec: corralv1alpha1.MCPServerSpec{PoolRef: pool},
	}
}

func mustGetServer(t *testing.T, st store.Store, name string) *corralv1alpha1.MCPServer {
	t.Helper()
	server, err := st.GetServer(context.Background(), name, "default")
	if err != nil {
		t.Fatalf("GetServer(%s) failed: %v", name, err)
	}
	return server
}

func serverRequest(name string) ReconcileRequest {
	return ReconcileRequest{
		Type:      ResourceTypeMCPServer,
		Name:      name,
		Namespace: "default",
		Attempt:   1,
	}
}

func TestServerReconciler_AdmitsNewServer(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if err := st.CreateServer(ctx, testServer("git-tools-a1b2c", "git-tools")); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != transitionalRequeueInterval {
		t.Errorf("Expected requeue after %v while starting, got %v", transitionalRequeueInterval, result.RequeueAfter)
	}

	if wl.ensureCount() != 1 {
		t.Errorf("Expected one Ensure call, got %d", wl.ensureCount())
	}

	server := mustGetServer(t, st, "git-tools-a1b2c")
	if server.Status.Phase != corralv1alpha1.PhaseStarting {
		t.Errorf("Expected phase Starting, got %q", server.Status.Phase)
	}
	if server.Status.Endpoint == "" {
		t.Error("Expected endpoint to be recorded after Ensure")
	}
	if !controllerutil.ContainsFinalizer(server, ServerFinalizer) {
		t.Error("Expected finalizer to be added before the workload exists")
	}

	condition := meta.FindStatusCondition(server.Status.Conditions, serverConditionReady)
	if condition == nil {
		t.Fatal("Expected a Ready condition")
	}
	if condition.Status != metav1.ConditionFalse {
		t.Errorf("Expected Ready=False while starting, got %s", condition.Status)
	}
	if condition.Reason != string(corralv1alpha1.PhaseStarting) {
		t.Errorf("Expected condition reason Starting, got %q", condition.Reason)
	}
}

func TestServerReconciler_CapacityGateKeepsPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	pool := testPool("git-tools")
	pool.Spec.MaxServers = 1
	if err := st.CreatePool(ctx, pool); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	occupant := testServer("git-tools-busy0", "git-tools")
	if err := st.CreateServer(ctx, occupant); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	occupant.Status.Phase = corralv1alpha1.PhaseRunning
	if err := st.UpdateServerStatus(ctx, occupant); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}

	if err := st.CreateServer(ctx, testServer("git-tools-a1b2c", "git-tools")); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != time.Minute {
		t.Errorf("Expected resync requeue for a parked record, got %v", result.RequeueAfter)
	}

	if wl.ensureCount() != 0 {
		t.Errorf("Expected no Ensure call for a parked record, got %d", wl.ensureCount())
	}

	server := mustGetServer(t, st, "git-tools-a1b2c")
	if server.Status.Phase != corralv1alpha1.PhasePending {
		t.Errorf("Expected phase Pending at capacity, got %q", server.Status.Phase)
	}
	if controllerutil.ContainsFinalizer(server, ServerFinalizer) {
		t.Error("Finalizer must not be added before admission")
	}
}

func TestServerReconciler_RunningWhenWorkloadReady(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	server := testServer("git-tools-a1b2c", "git-tools")
	server.Finalizers = []string{ServerFinalizer}
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	server.Status.Phase = corralv1alpha1.PhaseStarting
	if err := st.UpdateServerStatus(ctx, server); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}

	wl.setStatus("default/git-tools-a1b2c", workload.Status{
		State:    lifecycle.WorkloadReady,
		Endpoint: "http://git-tools-a1b2c.default.svc.cluster.local:8080/mcp",
	})

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != time.Minute {
		t.Errorf("Expected resync requeue for a running record, got %v", result.RequeueAfter)
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseRunning {
		t.Errorf("Expected phase Running, got %q", got.Status.Phase)
	}
	if got.Status.StartedAt == nil {
		t.Error("Expected StartedAt to be stamped on the transition to Running")
	}
	if got.Status.Endpoint == "" {
		t.Error("Expected endpoint from the observed workload")
	}

	condition := meta.FindStatusCondition(got.Status.Conditions, serverConditionReady)
	if condition == nil || condition.Status != metav1.ConditionTrue {
		t.Error("Expected Ready=True for a running server")
	}
}

func TestServerReconciler_IdleAfterTimeout(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	pool := testPool("git-tools")
	pool.Spec.IdleTimeout = metav1.Duration{Duration: time.Minute}
	if err := st.CreatePool(ctx, pool); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	server := testServer("git-tools-a1b2c", "git-tools")
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	started := metav1.NewTime(time.Now().Add(-10 * time.Minute))
	server.Status.Phase = corralv1alpha1.PhaseRunning
	server.Status.StartedAt = &started
	if err := st.UpdateServerStatus(ctx, server); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}

	wl.setStatus("default/git-tools-a1b2c", workload.Status{
		State:    lifecycle.WorkloadReady,
		Endpoint: "http://git-tools-a1b2c.default.svc.cluster.local:8080/mcp",
	})

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseIdle {
		t.Errorf("Expected phase Idle after the timeout, got %q", got.Status.Phase)
	}
	if got.Status.Endpoint == "" {
		t.Error("Idle servers keep their endpoint")
	}
	if wl.teardownCount() != 0 {
		t.Error("Idle must not tear the workload down")
	}

	condition := meta.FindStatusCondition(got.Status.Conditions, serverConditionReady)
	if condition == nil || condition.Status != metav1.ConditionTrue {
		t.Error("Expected Ready=True for an idle server")
	}
}

func TestServerReconciler_StopFlagTearsDown(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	server := testServer("git-tools-a1b2c", "git-tools")
	server.Finalizers = []string{ServerFinalizer}
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	server.Status.Phase = corralv1alpha1.PhaseRunning
	if err := st.UpdateServerStatus(ctx, server); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}
	wl.setStatus("default/git-tools-a1b2c", workload.Status{
		State:    lifecycle.WorkloadReady,
		Endpoint: "http://git-tools-a1b2c.default.svc.cluster.local:8080/mcp",
	})

	current := mustGetServer(t, st, "git-tools-a1b2c")
	current.Spec.Stop = true
	if err := st.UpdateServer(ctx, current); err != nil {
		t.Fatalf("UpdateServer failed: %v", err)
	}

	// First pass tears the workload down and moves to Stopping.
	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != transitionalRequeueInterval {
		t.Errorf("Expected short requeue while stopping, got %v", result.RequeueAfter)
	}
	if wl.teardownCount() != 1 {
		t.Fatalf("Expected one Teardown call, got %d", wl.teardownCount())
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseStopping {
		t.Errorf("Expected phase Stopping, got %q", got.Status.Phase)
	}
	if got.Status.Endpoint != "" {
		t.Errorf("Expected endpoint cleared while stopping, got %q", got.Status.Endpoint)
	}

	// Second pass observes the workload gone and settles in Stopped.
	result = r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}

	got = mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseStopped {
		t.Errorf("Expected phase Stopped, got %q", got.Status.Phase)
	}
	if got.Status.StoppedAt == nil {
		t.Error("Expected StoppedAt to be stamped on the transition to Stopped")
	}
}

func TestServerReconciler_ReapsStoppedAfterRetention(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	server := testServer("git-tools-a1b2c", "git-tools")
	server.Spec.Stop = true
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	stopped := metav1.NewTime(time.Now().Add(-time.Hour))
	server.Status.Phase = corralv1alpha1.PhaseStopped
	server.Status.StoppedAt = &stopped
	if err := st.UpdateServerStatus(ctx, server); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != 0 {
		t.Errorf("Expected no requeue after reaping, got %v", result.RequeueAfter)
	}

	if _, err := st.GetServer(ctx, "git-tools-a1b2c", "default"); !apierrors.IsNotFound(err) {
		t.Errorf("Expected the record to be deleted, got err=%v", err)
	}
}

func TestServerReconciler_WorkloadFailureParksFailed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	server := testServer("git-tools-a1b2c", "git-tools")
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	server.Status.Phase = corralv1alpha1.PhaseRunning
	if err := st.UpdateServerStatus(ctx, server); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}
	wl.setStatus("default/git-tools-a1b2c", workload.Status{
		State:  lifecycle.WorkloadFailed,
		Reason: "container crashed (exit 137)",
	})

	// First pass records the failure and tears down.
	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if wl.teardownCount() != 1 {
		t.Fatalf("Expected one Teardown call, got %d", wl.teardownCount())
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseStopping {
		t.Errorf("Expected phase Stopping after a crash, got %q", got.Status.Phase)
	}
	if !strings.Contains(got.Status.LastError, "container crashed") {
		t.Errorf("Expected the crash reason on the record, got %q", got.Status.LastError)
	}

	// Second pass resolves by restart policy: Never parks the record.
	result = r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}

	got = mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseFailed {
		t.Errorf("Expected phase Failed under RestartNever, got %q", got.Status.Phase)
	}
	if !strings.Contains(got.Status.LastError, "container crashed") {
		t.Errorf("Expected the crash reason to survive, got %q", got.Status.LastError)
	}
}

func TestServerReconciler_RestartPolicyAlwaysRevives(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	pool := testPool("git-tools")
	pool.Spec.RestartPolicy = corralv1alpha1.RestartAlways
	if err := st.CreatePool(ctx, pool); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	server := testServer("git-tools-a1b2c", "git-tools")
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	server.Status.Phase = corralv1alpha1.PhaseRunning
	if err := st.UpdateServerStatus(ctx, server); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}
	wl.setStatus("default/git-tools-a1b2c", workload.Status{
		State:  lifecycle.WorkloadFailed,
		Reason: "container crashed (exit 137)",
	})

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	result = r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhasePending {
		t.Errorf("Expected phase Pending under RestartAlways, got %q", got.Status.Phase)
	}
	if got.Status.LastError != "" {
		t.Errorf("Expected LastError cleared for the new incarnation, got %q", got.Status.LastError)
	}
}

func TestServerReconciler_OrphanParksFailed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreateServer(ctx, testServer("git-tools-a1b2c", "git-tools")); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != time.Minute {
		t.Errorf("Expected resync requeue for an orphan, got %v", result.RequeueAfter)
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if got.Status.Phase != corralv1alpha1.PhaseFailed {
		t.Errorf("Expected phase Failed for an orphan, got %q", got.Status.Phase)
	}
	if !strings.Contains(got.Status.LastError, `pool "git-tools" not found`) {
		t.Errorf("Expected the missing pool on the record, got %q", got.Status.LastError)
	}
	if wl.teardownCount() != 0 {
		t.Error("No workload existed, nothing to tear down")
	}
}

func TestServerReconciler_VanishedRecordCleansUp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	// A workload is still around even though the record is gone.
	wl.setStatus("default/ghost-1", workload.Status{
		State:    lifecycle.WorkloadReady,
		Endpoint: "http://ghost-1.default.svc.cluster.local:8080/mcp",
	})

	result := r.Reconcile(ctx, serverRequest("ghost-1"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != 0 {
		t.Errorf("Expected no requeue for a vanished record, got %v", result.RequeueAfter)
	}

	if wl.teardownCount() != 1 {
		t.Fatalf("Expected the leftover workload to be torn down, got %d calls", wl.teardownCount())
	}
	wl.mu.Lock()
	torndown := wl.teardowns[0]
	wl.mu.Unlock()
	if torndown != "default/ghost-1" {
		t.Errorf("Expected teardown of default/ghost-1, got %s", torndown)
	}
}

func TestServerReconciler_FinalizerReleasedAfterTeardown(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	now := metav1.Now()
	server := testServer("git-tools-a1b2c", "git-tools")
	server.Finalizers = []string{ServerFinalizer}
	server.DeletionTimestamp = &now
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	wl.setStatus("default/git-tools-a1b2c", workload.Status{
		State:    lifecycle.WorkloadReady,
		Endpoint: "http://git-tools-a1b2c.default.svc.cluster.local:8080/mcp",
	})

	// First pass tears down and keeps the finalizer until the workload is gone.
	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}
	if result.RequeueAfter != transitionalRequeueInterval {
		t.Errorf("Expected short requeue while finalizing, got %v", result.RequeueAfter)
	}
	if wl.teardownCount() != 1 {
		t.Fatalf("Expected one Teardown call, got %d", wl.teardownCount())
	}
	got := mustGetServer(t, st, "git-tools-a1b2c")
	if !controllerutil.ContainsFinalizer(got, ServerFinalizer) {
		t.Fatal("Finalizer must stay until the workload is confirmed gone")
	}

	// Second pass confirms the workload is gone and releases the finalizer.
	result = r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error != nil {
		t.Fatalf("Reconcile failed: %v", result.Error)
	}

	got = mustGetServer(t, st, "git-tools-a1b2c")
	if controllerutil.ContainsFinalizer(got, ServerFinalizer) {
		t.Error("Expected the finalizer to be released after teardown")
	}
}

func TestServerReconciler_EnsureFailureRecorded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wl := newFakeWorkloadManager()
	wl.ensureErr = errors.New("creating deployment: quota exceeded")
	r := NewServerReconciler(st, wl, time.Minute)

	if err := st.CreatePool(ctx, testPool("git-tools")); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if err := st.CreateServer(ctx, testServer("git-tools-a1b2c", "git-tools")); err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}

	result := r.Reconcile(ctx, serverRequest("git-tools-a1b2c"))
	if result.Error == nil {
		t.Fatal("Expected the substrate failure to surface for retry")
	}

	got := mustGetServer(t, st, "git-tools-a1b2c")
	if !strings.Contains(got.Status.LastError, "quota exceeded") {
		t.Errorf("Expected the failure on the record, got %q", got.Status.LastError)
	}
}
