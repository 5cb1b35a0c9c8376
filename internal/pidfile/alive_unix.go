//go:build !windows

package pidfile

import (
	"errors"
	"os"
	"syscall"
)

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.EPERM) {
		// The process exists but belongs to another user.
		return true
	}
	return false
}
