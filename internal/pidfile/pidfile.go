// Package pidfile records the daemon's PID on disk so other invocations
// can detect a running instance.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New creates a PID file handle. A leading ~ in path is expanded to the
// user's home directory.
func New(path string) *File {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return &File{path: path}
}

// Path returns the PID file path.
func (f *File) Path() string {
	return f.path
}

// Write records the current process's PID.
func (f *File) Write() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(f.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}

// Read returns the recorded PID. It returns (0, nil) when no PID file
// exists.
func (f *File) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// Running reports whether the PID file points at a live process. A stale
// file (recorded process no longer exists) counts as not running.
func (f *File) Running() (bool, int, error) {
	pid, err := f.Read()
	if err != nil {
		return false, 0, err
	}
	if pid <= 0 {
		return false, 0, nil
	}
	if !processAlive(pid) {
		return false, pid, nil
	}
	return true, pid, nil
}
