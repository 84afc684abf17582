package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
)

// LockFileName is the exclusive deployment lock under the app root.
const LockFileName = ".deploy.lock"

// FileLock is an exclusive cross-process deployment lock. Two slipway
// invocations (CLI and webhook server, or two operators) racing on the
// same app would interleave writes to shared state and the current
// pointer, so the second one is rejected, not queued.
//
// Exclusion comes from flock(2), which the kernel drops when the
// holding process exits. A lock file left behind by a killed deploy
// never blocks the next one, and there is no stale-lock removal to
// race against. The holder's PID is written into the file purely for
// operators.
type FileLock struct {
	path string
	file *os.File
}

// AcquireLock takes the deployment lock for an app root. Returns
// ErrLocked when another live process holds it.
func AcquireLock(root string) (*FileLock, error) {
	path := filepath.Join(root, LockFileName)

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file: %w", err)
		}

		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, syscall.EWOULDBLOCK) {
				return nil, fmt.Errorf("%w: lock file %s is held", ErrLocked, path)
			}
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}

		// A concurrent Release may have unlinked the file between open
		// and flock, leaving us a lock on an orphaned inode that excludes
		// nobody. Verify the locked file is still the one on disk.
		if !onDiskMatches(f, path) {
			f.Close()
			continue
		}

		f.Truncate(0)
		fmt.Fprintf(f, "%s\n", strconv.Itoa(os.Getpid()))
		return &FileLock{path: path, file: f}, nil
	}

	return nil, fmt.Errorf("failed to acquire lock file %s: too many races", path)
}

// onDiskMatches reports whether the open file and the path still refer
// to the same inode.
func onDiskMatches(f *os.File, path string) bool {
	var held, onDisk syscall.Stat_t
	if err := syscall.Fstat(int(f.Fd()), &held); err != nil {
		return false
	}
	if err := syscall.Stat(path, &onDisk); err != nil {
		return false
	}
	return held.Dev == onDisk.Dev && held.Ino == onDisk.Ino
}

// Release removes the lock file and drops the flock. Safe to call once
// per acquired lock.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}

	// Unlink while still holding the flock, so no waiter can acquire the
	// old inode after it stops being reachable.
	removeErr := os.Remove(l.path)
	closeErr := l.file.Close()
	l.file = nil

	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("failed to remove lock file: %w", removeErr)
	}
	return closeErr
}

// LockManager hands out in-process per-app locks for the webhook
// server, so concurrent deliveries for the same app are rejected
// immediately instead of racing to the file lock.
//
// Two levels: the outer mutex protects the map, each app gets its own
// mutex for the actual deployment. Different apps deploy concurrently;
// one app deploys once at a time.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock attempts to acquire the deployment lock for an app without
// blocking. Returns false when a deployment is already in progress.
func (lm *LockManager) TryLock(appName string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[appName]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[appName] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the deployment lock for an app. Typically deferred
// after a successful TryLock. No-op for unknown apps.
func (lm *LockManager) Unlock(appName string) {
	lm.mu.Lock()
	lock := lm.locks[appName]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
