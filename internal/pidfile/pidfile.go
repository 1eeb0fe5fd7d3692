// Package pidfile keeps one apguard daemon per host by holding an exclusive
// lock on a PID file for the daemon's lifetime.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrLocked is returned by New when another process holds the lock.
var ErrLocked = errors.New("another apguard daemon is running")

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// ReadPID reads the PID from an existing PID file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimRight(string(data), "\r\n"))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in file: %w", err)
	}
	return pid, nil
}

func lockedError(path string, cause error) error {
	holder := "unknown"
	if pid, err := ReadPID(path); err == nil {
		holder = strconv.Itoa(pid)
	}
	return fmt.Errorf("%w (pid: %s): %v", ErrLocked, holder, cause)
}

// writePID replaces the file contents with the current PID.
func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncating pid file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("seeking pid file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("writing pid: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing pid file: %w", err)
	}
	return nil
}
