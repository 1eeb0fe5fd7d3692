//go:build windows

package pidfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// PIDFile is a locked PID file. Windows uses LockFileEx on the first byte.
type PIDFile struct {
	path   string
	file   *os.File
	handle windows.Handle
}

// New creates and locks a PID file at the given path. An empty path
// returns a nil PIDFile and no error.
func New(path string) (*PIDFile, error) {
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating pid directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	handle := windows.Handle(file.Fd())
	overlapped := new(windows.Overlapped)
	if err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, overlapped); err != nil {
		file.Close()
		return nil, lockedError(path, err)
	}

	if err := writePID(file); err != nil {
		_ = windows.UnlockFileEx(handle, 0, 1, 0, overlapped)
		file.Close()
		return nil, err
	}

	return &PIDFile{path: path, file: file, handle: handle}, nil
}

// Close releases the lock and removes the PID file.
func (p *PIDFile) Close() error {
	if p == nil || p.file == nil {
		return nil
	}

	_ = windows.UnlockFileEx(p.handle, 0, 1, 0, new(windows.Overlapped))
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("closing pid file: %w", err)
	}
	p.file = nil

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// IsRunning checks if a process with the given PID is still running.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	windows.CloseHandle(handle)
	return true
}
