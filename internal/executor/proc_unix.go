//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// setProcGroup places the child in its own process group so a kill can
// reach any grandchildren it spawns (interpreter wrappers, node shims).
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup forcibly terminates the child's entire process group,
// falling back to a single-process kill if the group signal fails.
func killProcGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		if syscall.Kill(-pgid, syscall.SIGKILL) == nil {
			return
		}
	}
	_ = cmd.Process.Kill()
}
