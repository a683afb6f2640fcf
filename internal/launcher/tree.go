package launcher

import (
	"errors"

	"github.com/shirou/gopsutil/v4/process"
)

// killProcessTree kills pid and every descendant, children first.
func killProcessTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	children, _ := p.Children()
	for _, c := range children {
		if c == nil {
			continue
		}
		_ = killProcessTree(int(c.Pid))
	}
	if err := p.Kill(); err != nil {
		if running, rerr := p.IsRunning(); rerr == nil && !running {
			return nil
		}
		return err
	}
	return nil
}

// Kill terminates a server process by pid: its process group where supported,
// then its descendant tree.
func Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	_ = killProcessGroupByPID(pid)
	return killProcessTree(pid)
}

// Alive reports whether a process with the pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
