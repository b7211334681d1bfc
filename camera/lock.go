package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Lock is an advisory, process-wide claim on a camera device.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock claims device through a lock file under dir. It fails with
// ErrLocked when another owner holds it.
func AcquireLock(dir, device string) (*Lock, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(dir, lockName(device)))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", device, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", device, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release gives the device back. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

func lockName(device string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	name := strings.Trim(r.Replace(device), "_.")
	if name == "" {
		name = "default"
	}
	return "camera-" + name + ".lock"
}
