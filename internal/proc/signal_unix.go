//go:build !windows

// Package proc wraps the platform-specific signalling used to suspend,
// resume, and terminate controlled subprocesses.
package proc

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// PauseSupported reports whether the platform can suspend a subprocess.
const PauseSupported = true

func Suspend(cmd *exec.Cmd) error {
	return unix.Kill(cmd.Process.Pid, unix.SIGSTOP)
}

func Continue(cmd *exec.Cmd) error {
	return unix.Kill(cmd.Process.Pid, unix.SIGCONT)
}

// Terminate asks the process to exit. A stopped process cannot handle
// SIGTERM, so it is continued first.
func Terminate(cmd *exec.Cmd, paused bool) error {
	if paused {
		_ = unix.Kill(cmd.Process.Pid, unix.SIGCONT)
	}
	return unix.Kill(cmd.Process.Pid, unix.SIGTERM)
}

func ForceKill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// Alive probes liveness with the null signal.
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
