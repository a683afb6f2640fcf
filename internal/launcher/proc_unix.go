//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

func setCmdProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	// Own process group so the whole server tree can be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroupByPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	// Best-effort: kill the process group first, then the process itself.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
	return nil
}
