// Package lock serializes plan application on one image.
package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrLocked is returned by TryAcquire when another process holds the lock.
var ErrLocked = errors.New("image is locked by another process")

// RetryInterval is how often Acquire polls a held lock.
var RetryInterval = 100 * time.Millisecond

// Path returns the lock file of the image rooted at root.
func Path(root string) string {
	return filepath.Join(root, "var", "pkg", "lock")
}

// Lock is a held image lock.
type Lock struct {
	f *os.File
}

// Acquire blocks until the lock at path is held or ctx is done.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	t := time.NewTicker(RetryInterval)
	defer t.Stop()
	for {
		l, err := TryAcquire(path)
		if !errors.Is(err, ErrLocked) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// TryAcquire takes the lock at path without waiting.
func TryAcquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return nil, err
	}
	// Holder pid, for operators inspecting a stuck lock.
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0) //nolint:errcheck
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. The lock file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
