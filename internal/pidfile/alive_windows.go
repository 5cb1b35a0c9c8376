//go:build windows

package pidfile

import (
	"syscall"
)

// processAlive checks whether the process can be opened for querying.
func processAlive(pid int) bool {
	handle, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(handle)
	return true
}
