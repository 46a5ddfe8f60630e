//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on non-Unix platforms.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the process directly on non-Unix platforms.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// terminationSignal returns false on non-Unix platforms; there is no WaitStatus.
func terminationSignal(state *os.ProcessState) (string, bool) {
	return "", false
}
