package state

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/thoreinstein/capstan/internal/errors"
)

// Lock is the exclusive per-install-root lock. Exactly one engine instance
// may hold it at a time; a second concurrent invocation fails fast with
// ErrInstallInProgress rather than corrupting the log.
type Lock struct {
	path string
}

// LockPath returns the lock file location for an install root.
func LockPath(root string) string {
	return filepath.Join(root, LockFileName)
}

// AcquireLock takes the exclusive lock for the install root, creating the
// root directory if needed. A lock file whose recorded pid is no longer
// alive is considered stale and is replaced.
func AcquireLock(root string) (*Lock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating install root")
	}

	path := LockPath(root)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, errors.Wrap(errors.Join(werr, cerr), "writing lock file")
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "creating lock file")
		}

		if !lockIsStale(path) {
			return nil, errors.Wrapf(errors.ErrInstallInProgress, "lock held at %s", path)
		}
		// Stale lock from a dead process; remove and retry once.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "removing stale lock")
		}
	}

	return nil, errors.Wrapf(errors.ErrInstallInProgress, "lock held at %s", path)
}

// lockIsStale reports whether the lock file's recorded pid no longer refers
// to a live process. An unreadable or garbled lock file is treated as held,
// never silently stolen.
func lockIsStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return !alive
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "releasing lock")
	}
	return nil
}
