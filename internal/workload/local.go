package workload

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"corral/internal/api"
	"corral/internal/lifecycle"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

const (
	// stopGracePeriod is how long a process gets to exit after SIGTERM
	// before the whole process group is killed.
	stopGracePeriod = 5 * time.Second

	// stopKillWait bounds the wait after SIGKILL so Teardown never hangs on
	// an unreapable process.
	stopKillWait = 2 * time.Second

	// dialProbeTimeout is the per-probe timeout when checking whether a
	// local process has bound its port.
	dialProbeTimeout = 1 * time.Second
)

// localManager implements Manager by running pool template commands as
// child processes on the host. It backs offline mode, where no cluster is
// available but the templates name commands runnable locally.
//
// HTTP servers receive their port through the PORT environment variable.
// Stdio servers are wrapped with the corral shim, re-executing the running
// binary.
type localManager struct {
	mu        sync.Mutex
	instances map[string]*localInstance
}

// localInstance tracks one child process.
type localInstance struct {
	cmd     *exec.Cmd
	port    int
	done    chan struct{}
	waitErr error // written before done is closed
}

// NewLocalManager creates a Manager that runs instances as host processes.
func NewLocalManager() Manager {
	return &localManager{instances: map[string]*localInstance{}}
}

// Ensure starts the instance's process unless one is already tracked. An
// exited process stays tracked so Status reports the failure; Teardown
// clears it, same as a failed pod on Kubernetes.
func (m *localManager) Ensure(ctx context.Context, server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool) (string, error) {
	key := instanceKey(server)

	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[key]; ok {
		return localEndpoint(inst.port), nil
	}

	port, err := freePort()
	if err != nil {
		return "", api.NewSubstrateError("allocate port", err)
	}

	cmd, err := localCommand(server, pool, port)
	if err != nil {
		return "", api.NewSubstrateError("build command", err)
	}

	inst, err := m.startProcess(key, cmd, port)
	if err != nil {
		return "", api.NewSubstrateError("start process", err)
	}
	m.instances[key] = inst

	return localEndpoint(port), nil
}

// Status reports the tracked process state. A process that has exited is a
// failed workload regardless of exit code, MCP servers are long-running.
func (m *localManager) Status(ctx context.Context, server *corralv1alpha1.MCPServer) (Status, error) {
	m.mu.Lock()
	inst, ok := m.instances[instanceKey(server)]
	m.mu.Unlock()

	if !ok {
		return Status{State: lifecycle.WorkloadMissing}, nil
	}

	select {
	case <-inst.done:
		reason := "process exited"
		if inst.waitErr != nil {
			reason = fmt.Sprintf("process exited: %v", inst.waitErr)
		}
		return Status{State: lifecycle.WorkloadFailed, Reason: reason}, nil
	default:
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", inst.port), dialProbeTimeout)
	if err != nil {
		return Status{State: lifecycle.WorkloadPending, Reason: "port not accepting connections"}, nil
	}
	conn.Close()

	return Status{State: lifecycle.WorkloadReady, Endpoint: localEndpoint(inst.port)}, nil
}

// Teardown stops the instance's process and forgets it. Unknown instances
// are a no-op.
func (m *localManager) Teardown(ctx context.Context, server *corralv1alpha1.MCPServer) error {
	key := instanceKey(server)

	m.mu.Lock()
	inst, ok := m.instances[key]
	delete(m.instances, key)
	m.mu.Unlock()

	if ok {
		m.stopInstance(key, inst)
	}
	return nil
}

// Close stops every tracked process. Called on shutdown so no orphaned
// children outlive the controller.
func (m *localManager) Close() error {
	m.mu.Lock()
	instances := m.instances
	m.instances = map[string]*localInstance{}
	m.mu.Unlock()

	for key, inst := range instances {
		m.stopInstance(key, inst)
	}
	return nil
}

// startProcess wires up log forwarding, starts cmd in its own process
// group, and begins reaping it in the background.
func (m *localManager) startProcess(key string, cmd *exec.Cmd, port int) (*localInstance, error) {
	configureProcAttr(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	go forwardLines(key, "stdout", stdoutR)
	go forwardLines(key, "stderr", stderrR)

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", key, err)
	}

	inst := &localInstance{cmd: cmd, port: port, done: make(chan struct{})}
	go func() {
		inst.waitErr = cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		close(inst.done)
	}()

	logging.Info("Workload", "Started local process for %s (pid %d, port %d)", key, cmd.Process.Pid, port)
	return inst, nil
}

// stopInstance terminates a process group, escalating from SIGTERM to
// SIGKILL after the grace period.
func (m *localManager) stopInstance(key string, inst *localInstance) {
	select {
	case <-inst.done:
		return
	default:
	}

	pid := inst.cmd.Process.Pid
	if err := killProcessGroup(pid, syscall.SIGTERM); err != nil {
		logging.Debug("Workload", "SIGTERM for %s (pid %d) failed: %v", key, pid, err)
	}

	select {
	case <-inst.done:
		return
	case <-time.After(stopGracePeriod):
		logging.Warn("Workload", "Process %s (pid %d) ignored SIGTERM, killing process group", key, pid)
	}

	if err := killProcessGroup(pid, syscall.SIGKILL); err != nil {
		logging.Debug("Workload", "SIGKILL for %s (pid %d) failed: %v", key, pid, err)
	}

	select {
	case <-inst.done:
	case <-time.After(stopKillWait):
		logging.Error("Workload", nil, "Process %s (pid %d) did not exit after SIGKILL", key, pid)
	}
}

// localCommand builds the exec.Cmd for an instance. The command is
// deliberately not bound to the caller's context: the process must outlive
// the reconcile pass that starts it.
func localCommand(server *corralv1alpha1.MCPServer, pool *corralv1alpha1.MCPServerPool, port int) (*exec.Cmd, error) {
	template := pool.Spec.Template
	if len(template.Command) == 0 {
		return nil, fmt.Errorf("pool %s template has no command to run locally", pool.Name)
	}

	var cmd *exec.Cmd
	if server.EffectiveTransport(pool) == corralv1alpha1.TransportStdio {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate corral binary for shim: %w", err)
		}
		args := []string{"shim", "--listen", fmt.Sprintf("127.0.0.1:%d", port), "--"}
		args = append(args, template.Command...)
		args = append(args, template.Args...)
		cmd = exec.Command(exe, args...)
	} else {
		args := append([]string{}, template.Command[1:]...)
		args = append(args, template.Args...)
		cmd = exec.Command(template.Command[0], args...)
	}

	env := os.Environ()
	merged := mergedEnv(server, pool)
	for _, k := range sortedKeys(merged) {
		env = append(env, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	env = append(env, fmt.Sprintf("PORT=%d", port))
	cmd.Env = env

	return cmd, nil
}

// forwardLines relays a process output stream into the corral log.
func forwardLines(key, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logging.Debug("Workload", "%s %s: %s", key, stream, scanner.Text())
	}
}

// freePort asks the kernel for an unused TCP port on the loopback
// interface.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// instanceKey identifies a tracked process.
func instanceKey(server *corralv1alpha1.MCPServer) string {
	return fmt.Sprintf("%s/%s", server.Namespace, server.Name)
}

// localEndpoint is the loopback address of a local instance.
func localEndpoint(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}
