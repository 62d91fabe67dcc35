package app

import (
	"fmt"
	"time"

	"k8s.io/client-go/rest"

	"corral/internal/bridge"
	"corral/internal/controller"
	"corral/internal/store"
	"corral/internal/workload"
	"corral/pkg/logging"
)

// Services holds all initialized services used by the application.
// This struct serves as the central registry for the core components,
// wired once during bootstrap and started together by Run.
//
// Field descriptions:
//   - Store: pool and server records, CRD-backed or in-memory
//   - Workloads: starts and stops the actual MCP server processes
//   - Bridge: client-facing SSE endpoint relaying JSON-RPC to instances
//   - Controller: reconcile manager driving records toward desired state
//   - Namespace: the namespace the controller reconciles
type Services struct {
	// Store persists the MCPServerPool and MCPServer records. In Kubernetes
	// mode it talks to the API server; offline it holds them in memory.
	Store store.Store

	// Workloads manages the server instances themselves: Pods and Services
	// in Kubernetes mode, host processes offline.
	Workloads workload.Manager

	// Bridge terminates client SSE sessions and relays JSON-RPC messages
	// to the backing instances.
	Bridge *bridge.Server

	// Controller runs the reconcile workers and change detectors.
	Controller *controller.Manager

	// Namespace is the single namespace this process operates in.
	Namespace string
}

// InitializeServices creates and registers all required services for the
// application, following the API Service Locator Pattern: components are
// constructed here and their adapters registered with the api layer, so the
// packages never import each other directly.
//
// Initialization Sequence:
//  1. **Store**: Kubernetes-backed when a cluster with the corral CRDs is
//     reachable, in-memory otherwise (always in-memory with --offline).
//  2. **Workload manager**: matches the store mode (Pods or host processes).
//  3. **Bridge**: built on the store-backed resolver; its API adapter is
//     registered immediately because the activity detector resolves the
//     bridge handler when it starts.
//  4. **Controller**: reconcile manager with the server and pool
//     reconcilers and the change detectors. The Kubernetes watch detector
//     is only added in Kubernetes mode; the bridge activity detector always
//     runs.
//  5. **API adapters**: reconcile trigger and pool management handlers.
//
// Returns a fully initialized Services struct or an error if any critical
// initialization fails.
func InitializeServices(cfg *Config) (*Services, error) {
	namespace := cfg.CorralConfig.Namespace
	if namespace == "" {
		namespace = controller.DefaultNamespace
	}

	// Resolve the REST config once so the store and the watch detector
	// agree on the cluster they talk to.
	var restConfig *rest.Config
	if !cfg.Offline {
		if rc, err := controller.GetRestConfig(); err == nil {
			restConfig = rc
		} else {
			logging.Debug("Services", "No Kubernetes configuration detected: %v", err)
		}
	}

	st, err := store.NewStoreWithConfig(&store.StoreConfig{
		KubernetesConfig: restConfig,
		Offline:          cfg.Offline,
		Debug:            cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	workloads := workload.NewManager(st)

	bridgeCfg := cfg.CorralConfig.Bridge
	bridgeServer := bridge.NewServer(bridge.Config{
		Host:           bridgeCfg.Host,
		Port:           bridgeCfg.Port,
		PingInterval:   time.Duration(bridgeCfg.KeepAlive) * time.Second,
		MaxSessions:    bridgeCfg.MaxSessions,
		SessionMaxIdle: time.Duration(bridgeCfg.SessionTimeout) * time.Second,
		DialTimeout:    time.Duration(bridgeCfg.DialTimeout) * time.Second,
	}, newStoreResolver(st, namespace))

	// Register the bridge adapter before any detector starts - the
	// activity detector looks the bridge handler up through the api layer.
	bridgeAdapter := bridge.NewAdapter(bridgeServer)
	bridgeAdapter.Register()

	ctrlCfg := cfg.CorralConfig.Controller
	manager := controller.NewManager(controller.ManagerConfig{
		WorkerCount:      ctrlCfg.Workers,
		MaxRetries:       ctrlCfg.MaxRetries,
		InitialBackoff:   time.Duration(ctrlCfg.InitialBackoff) * time.Second,
		MaxBackoff:       time.Duration(ctrlCfg.MaxBackoff) * time.Second,
		ReconcileTimeout: time.Duration(ctrlCfg.ReconcileTimeout) * time.Second,
		Debug:            cfg.Debug,
	})

	resync := time.Duration(ctrlCfg.ResyncInterval) * time.Second
	if err := manager.RegisterReconciler(controller.NewServerReconciler(st, workloads, resync)); err != nil {
		return nil, fmt.Errorf("failed to register server reconciler: %w", err)
	}
	if err := manager.RegisterReconciler(controller.NewPoolReconciler(st, resync)); err != nil {
		return nil, fmt.Errorf("failed to register pool reconciler: %w", err)
	}

	if st.IsKubernetesMode() && restConfig != nil {
		detector, err := controller.NewKubernetesDetector(restConfig, namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes change detector: %w", err)
		}
		manager.AddDetector(detector)
	} else {
		logging.Info("Services", "Running without cluster watches; bridge activity and periodic resync drive reconciliation")
	}
	manager.AddDetector(controller.NewActivityBridge(namespace, manager.Config().DebounceInterval))

	// Register API adapters so the bridge resolver and external callers can
	// trigger reconciliation and manage pools.
	reconcileAdapter := controller.NewReconcileAPIAdapter(manager)
	reconcileAdapter.Register()

	poolAdapter := controller.NewPoolAPIAdapter(st, manager, namespace)
	poolAdapter.Register()

	return &Services{
		Store:      st,
		Workloads:  workloads,
		Bridge:     bridgeServer,
		Controller: manager,
		Namespace:  namespace,
	}, nil
}
