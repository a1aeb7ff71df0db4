package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked lock attempt polls.
const lockRetryDelay = 50 * time.Millisecond

// BundleLock serializes bundle saves and loads across processes. The lock
// file sits next to the bundle directory (<dir>.lock) so swapping the
// directory does not drop it.
type BundleLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewBundleLock creates a lock for the bundle at dir.
func NewBundleLock(dir string) *BundleLock {
	lockPath := filepath.Clean(dir) + ".lock"
	return &BundleLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock takes the exclusive lock used by writers, waiting until ctx is done.
func (l *BundleLock) Lock(ctx context.Context) error {
	return l.acquire(ctx, l.flock.TryLockContext)
}

// RLock takes the shared lock used by readers.
func (l *BundleLock) RLock(ctx context.Context) error {
	return l.acquire(ctx, l.flock.TryRLockContext)
}

func (l *BundleLock) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := try(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("lock %s is held by another process", l.path)
	}
	l.locked = true
	return nil
}

// TryLock attempts the exclusive lock without blocking.
func (l *BundleLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Calling it on an unlocked lock is a no-op.
func (l *BundleLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *BundleLock) Path() string {
	return l.path
}
