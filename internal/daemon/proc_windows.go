//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

func detach(*exec.Cmd) {}

// processAlive opens a handle to pid; FindProcess fails for exited processes.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}

// terminate kills the watcher; Windows has no SIGTERM.
func terminate(proc *os.Process) error {
	return proc.Kill()
}
