//go:build windows

// Package proc wraps the platform-specific signalling used to suspend,
// resume, and terminate controlled subprocesses.
package proc

import (
	"os"
	"os/exec"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// Windows has no process-suspend signal; pause/resume is a reduced
// capability on this platform rather than an unsafe emulation.
const PauseSupported = false

func Suspend(cmd *exec.Cmd) error {
	return domain.ErrPauseUnsupported
}

func Continue(cmd *exec.Cmd) error {
	return domain.ErrPauseUnsupported
}

func Terminate(cmd *exec.Cmd, paused bool) error {
	return cmd.Process.Kill()
}

func ForceKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Alive relies on FindProcess opening a handle, which fails once the
// process is gone.
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
