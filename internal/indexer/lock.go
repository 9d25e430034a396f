package indexer

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// ErrArchiveLocked is returned when another process is ingesting into the same database
var ErrArchiveLocked = errors.New("archive is locked by another ingest")

// IndexLock is a non-blocking in-process lock
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// FileLock guards a database path across processes with an exclusive lock file
type FileLock struct {
	path string
}

// LockPath returns the lock file used for a database path
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireFileLock creates the lock file for dbPath. A lock left by a process
// that no longer exists is taken over.
func AcquireFileLock(dbPath string) (*FileLock, error) {
	path := LockPath(dbPath)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return &FileLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if !staleLock(path) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveLocked, path)
		}
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrArchiveLocked, path)
}

// Release removes the lock file
func (l *FileLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// staleLock reports whether the lock file names a pid that is not running here
func staleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	if pid == os.Getpid() {
		return false
	}
	return !processAlive(pid)
}
