package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

const lockFileName = ".index.lock"

// Lock is a cross-process write lock on a data directory, so two indexers
// never write the same stores.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewLock returns the lock for dataDir. The lock file is created on first use.
func NewLock(dataDir string) *Lock {
	p := filepath.Join(dataDir, lockFileName)
	return &Lock{path: p, flock: flock.New(p)}
}

// TryLock acquires the lock without blocking. A lock held elsewhere is
// ERR_207_INDEX_LOCKED.
func (l *Lock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeIndexLocked, "another process is indexing this project", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the other 'fusesearch index' to finish")
	}
	l.locked = true
	return nil
}

// Lock waits for the lock until ctx is done, polling every retry.
func (l *Lock) Lock(ctx context.Context, retry time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.flock.TryLockContext(ctx, retry)
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeIndexLocked, "timed out waiting for the index lock", nil)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release index lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
