package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned when another process holds the lock past the wait
var ErrLocked = errors.New("settings file is locked by another process")

const (
	lockRetryDelay = 50 * time.Millisecond
	staleLockAge   = 2 * time.Minute
)

// FileLock guards a file under the settings directory so concurrent chat
// sessions do not interleave writes to it.
type FileLock struct {
	path     string
	lockPath string
	file     *os.File
}

// NewFileLock creates an unlocked lock for path
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, lockPath: path + ".lock"}
}

// Lock waits until the lock is acquired or ctx ends
func (fl *FileLock) Lock(ctx context.Context) error {
	if fl.file != nil {
		return fmt.Errorf("lock on %s already held", fl.path)
	}
	if err := os.MkdirAll(filepath.Dir(fl.lockPath), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ticker := time.NewTicker(lockRetryDelay)
	defer ticker.Stop()
	for {
		err := fl.tryLock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrLocked, fl.path)
		case <-ticker.C:
		}
	}
}

func (fl *FileLock) tryLock() error {
	file, err := os.OpenFile(fl.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}
		if !fl.stale() {
			return ErrLocked
		}
		os.Remove(fl.lockPath)
		return ErrLocked
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		os.Remove(fl.lockPath)
		return ErrLocked
	}
	fmt.Fprintf(file, "pid:%d\n", os.Getpid())
	fl.file = file
	return nil
}

// stale reports whether the lock file was left behind by a process that
// no longer runs.
func (fl *FileLock) stale() bool {
	info, err := os.Stat(fl.lockPath)
	if err != nil {
		return true
	}
	if time.Since(info.ModTime()) < staleLockAge {
		return false
	}

	data, err := os.ReadFile(fl.lockPath)
	if err != nil {
		return true
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "pid:%d", &pid); err != nil {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil
	if err := os.Remove(fl.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return closeErr
}

// WriteFileLocked replaces path with the output of write while holding its
// lock. The new content goes to a temporary file that is renamed into place.
func WriteFileLocked(ctx context.Context, path string, perm os.FileMode, write func(f *os.File) error) error {
	lock := NewFileLock(path)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
