//go:build !unix

package executor

import "os/exec"

// setProcGroup is a no-op where process groups are unsupported.
func setProcGroup(cmd *exec.Cmd) {}

// killProcGroup terminates the child process. Grandchildren cannot be
// reached without job objects here; single-process kill is the best the
// platform offers.
func killProcGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
