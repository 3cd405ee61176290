package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFileName sits beside the state file while a mutating verb runs
const LockFileName = ".subdirs.lock"

// Lock is an exclusive advisory lock over one working tree's state file and
// vendored directories. It is held for the duration of a single verb and
// must be released on every exit path.
type Lock struct {
	path string
}

// Acquire takes the working-tree lock. It fails when another invocation
// holds it; a lock left behind by a crashed process must be removed by hand
// (the file records the owning pid to make that call easier).
func Acquire(workTree string) (*Lock, error) {
	path := filepath.Join(workTree, LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("working tree is locked by another invocation (remove %s if stale)", path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		if werr != nil {
			return nil, fmt.Errorf("failed to write lock file: %w", werr)
		}
		return nil, cerr
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
