// Package runlock keeps two runs from writing to the same destination at the
// same time.
package runlock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another process already holds the lock.
var ErrHeld = errors.New("another run holds the destination lock")

// Lock is an acquired destination lock.
type Lock struct {
	path string
	lock *flock.Flock
}

// PathFor returns the lock file used for a destination key inside dir.
func PathFor(dir, destination string) string {
	sum := sha256.Sum256([]byte(destination))
	return filepath.Join(dir, "run-"+hex.EncodeToString(sum[:8])+".lock")
}

// Acquire takes the lock for destination without blocking.
func Acquire(dir, destination string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	path := PathFor(dir, destination)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrHeld, path)
	}
	return &Lock{path: path, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks. It is safe to call on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
