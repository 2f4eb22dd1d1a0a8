// Package lock keeps a second daemon from opening the same archive.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// HeldError is returned when another process holds the archive lock.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("archive lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired advisory lock on the archive directory.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on dir/LOCK without waiting, creating dir
// if needed. The file records the holder's PID. When another process holds
// the lock, Acquire returns a *HeldError naming it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, "LOCK")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, held(path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	if err := record(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

func held(path string) *HeldError {
	data, _ := os.ReadFile(path)
	return &HeldError{PID: Owner(string(data)), Path: path}
}

// record replaces the file content with the current PID and time.
func record(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_, err := f.WriteAt([]byte(content), 0)
	return err
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Owner returns the pid recorded in a lock file's content, or 0.
func Owner(content string) int {
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
