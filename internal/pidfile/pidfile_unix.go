//go:build unix

package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// PIDFile is a locked PID file. The flock is tied to the open file, so it
// is released if the process dies without calling Close.
type PIDFile struct {
	path string
	file *os.File
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

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, lockedError(path, err)
	}

	if err := writePID(file); err != nil {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, err
	}

	return &PIDFile{path: path, file: file}, nil
}

// Close releases the lock and removes the PID file.
func (p *PIDFile) Close() error {
	if p == nil || p.file == nil {
		return nil
	}

	// Remove while the lock is still held.
	rmErr := os.Remove(p.path)
	_ = unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	closeErr := p.file.Close()
	p.file = nil

	if rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("removing pid file: %w", rmErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing pid file: %w", closeErr)
	}
	return nil
}

// IsRunning checks if a process with the given PID is still running.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
