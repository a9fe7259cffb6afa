package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// writerLock is an exclusive advisory flock guarding the single-writer
// discipline across processes. Readers never take it; SQLite's WAL mode
// handles read/write coexistence on its own.
type writerLock struct {
	file *os.File
}

// acquireWriterLock takes a non-blocking exclusive flock on lockPath.
// Returns ErrLocked if another writer already holds it.
func acquireWriterLock(lockPath string) (*writerLock, error) {
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open writer lock %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}

	return &writerLock{file: file}, nil
}

// release drops the lock. Safe on a nil receiver (read-only stores).
func (l *writerLock) release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
