package subdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// swap is a two-phase replacement of a destination directory. The new tree
// is fully staged next to the destination, then swapped in with renames, so
// a failure at any point leaves the destination either untouched or fully
// restored. The previous tree is kept until commit so a caller can still
// roll back after the swap (e.g. when recording the import fails).
type swap struct {
	dest    string
	backup  string // previous tree, empty when dest did not exist
	swapped bool
}

// stageAndSwap copies sourceDir into a staging directory beside dest and
// swaps it into place.
func stageAndSwap(sourceDir, dest string) (*swap, error) {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	stage, err := os.MkdirTemp(parent, ".git-subdir-stage-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := copyTree(sourceDir, stage); err != nil {
		_ = os.RemoveAll(stage)
		return nil, err
	}

	sw := &swap{dest: dest}

	if _, err := os.Stat(dest); err == nil {
		backupDir, err := os.MkdirTemp(parent, ".git-subdir-backup-*")
		if err != nil {
			_ = os.RemoveAll(stage)
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
		sw.backup = filepath.Join(backupDir, "previous")

		if err := os.Rename(dest, sw.backup); err != nil {
			_ = os.RemoveAll(stage)
			_ = os.RemoveAll(backupDir)
			return nil, fmt.Errorf("failed to move previous tree aside: %w", err)
		}
	}

	if err := os.Rename(stage, dest); err != nil {
		_ = os.RemoveAll(stage)
		_ = sw.rollback()
		return nil, fmt.Errorf("failed to move staged tree into place: %w", err)
	}
	sw.swapped = true

	return sw, nil
}

// rollback restores the destination to its pre-swap state.
func (s *swap) rollback() error {
	if s.swapped {
		if err := os.RemoveAll(s.dest); err != nil {
			return err
		}
		s.swapped = false
	}
	if s.backup != "" {
		if err := os.Rename(s.backup, s.dest); err != nil {
			return err
		}
		_ = os.RemoveAll(filepath.Dir(s.backup))
		s.backup = ""
	}
	return nil
}

// commit discards the previous tree, making the swap permanent.
func (s *swap) commit() {
	if s.backup != "" {
		_ = os.RemoveAll(filepath.Dir(s.backup))
		s.backup = ""
	}
}
