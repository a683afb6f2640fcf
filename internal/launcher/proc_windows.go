//go:build windows

package launcher

import "os/exec"

func setCmdProcessGroup(cmd *exec.Cmd) {}

// killProcessGroupByPID is a no-op on Windows; killProcessTree walks the
// descendants instead.
func killProcessGroupByPID(pid int) error {
	return nil
}
