//go:build windows

package workload

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr configures process creation on Windows. There are no
// Unix process groups here; children are tracked through a new console
// group instead.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup terminates the individual process on Windows. Signals do
// not exist, so both SIGTERM and SIGKILL collapse into Kill.
func killProcessGroup(pid int, _ syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}
	return nil
}
