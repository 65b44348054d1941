package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by AcquirePID when a live process holds the
// PID file.
var ErrAlreadyRunning = errors.New("host-pulse already running")

// AcquirePID claims path for this process. Two daemons sharing a config
// would double every report, so a file naming a live process is an error.
// A file naming a dead process is taken over.
func AcquirePID(path string) error {
	self := os.Getpid()
	if holder, err := ReadPID(path); err == nil && holder != self && IsProcessAlive(holder) {
		return fmt.Errorf("%w (PID %d, %s)", ErrAlreadyRunning, holder, path)
	}
	if err := writeFileAtomic(path, []byte(strconv.Itoa(self)+"\n")); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// ReleasePID removes path if it still names this process. A file that was
// taken over by a newer daemon is left alone.
func ReleasePID(path string) error {
	holder, err := ReadPID(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case holder != os.Getpid():
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// ReadPID returns the process id stored in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID file %s: %w", path, err)
	}
	return pid, nil
}

// IsProcessAlive checks pid with signal 0. EPERM means the process exists
// under another user.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
