//go:build !windows

package lock

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// IsProcessAlive probes pid with signal 0. EPERM means the process exists
// but belongs to another user.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate asks pid to shut down with SIGTERM. A process that is already
// gone is not an error.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return nil
}
