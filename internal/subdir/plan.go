package subdir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Plan represents the file operations that converge a destination directory
// to a source subtree.
type Plan struct {
	Add    []FileOp
	Update []FileOp
	Delete []FileOp
}

// FileOp represents one file operation
type FileOp struct {
	RelPath    string // path relative to the subtree root
	SourcePath string // absolute path of the new content (empty for deletes)
	Hash       string // content hash of the new content
}

// Empty reports whether the plan contains no operations.
func (p *Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// buildPlan computes the diff that turns destDir into an exact copy of
// sourceDir. A missing destDir is treated as empty, so every source file
// becomes an add. Files that exist only in destDir become deletes: the
// destination converges to the exact new subtree, it is never overlaid.
func buildPlan(sourceDir, destDir string) (*Plan, error) {
	plan := &Plan{
		Add:    make([]FileOp, 0),
		Update: make([]FileOp, 0),
		Delete: make([]FileOp, 0),
	}

	sourceFiles, err := discoverFiles(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source tree: %w", err)
	}

	destFiles, err := discoverFiles(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			destFiles = nil
		} else {
			return nil, fmt.Errorf("failed to scan destination tree: %w", err)
		}
	}

	destSet := make(map[string]string, len(destFiles)) // rel path -> hash
	for _, rel := range destFiles {
		hash, err := fileHash(filepath.Join(destDir, rel))
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		destSet[rel] = hash
	}

	sourceSet := make(map[string]bool, len(sourceFiles))
	for _, rel := range sourceFiles {
		sourceSet[rel] = true

		srcPath := filepath.Join(sourceDir, rel)
		hash, err := fileHash(srcPath)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", rel, err)
		}

		op := FileOp{RelPath: rel, SourcePath: srcPath, Hash: hash}
		prevHash, exists := destSet[rel]
		switch {
		case !exists:
			plan.Add = append(plan.Add, op)
		case prevHash != hash:
			plan.Update = append(plan.Update, op)
		}
		// else: unchanged, no action needed
	}

	for _, rel := range destFiles {
		if !sourceSet[rel] {
			plan.Delete = append(plan.Delete, FileOp{RelPath: rel})
		}
	}

	return plan, nil
}

// discoverFiles returns the relative paths of all regular files under dir,
// skipping version-control metadata. The result is sorted (WalkDir order).
func discoverFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// copyTree copies every file under sourceDir into destDir, preserving
// relative layout and file modes, skipping version-control metadata.
func copyTree(sourceDir, destDir string) error {
	files, err := discoverFiles(sourceDir)
	if err != nil {
		return err
	}

	for _, rel := range files {
		if err := copyFile(filepath.Join(sourceDir, rel), filepath.Join(destDir, rel)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", rel, err)
		}
	}

	return nil
}

// copyFile copies a single file, creating parent directories as needed.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}

	return dstFile.Close()
}

// fileHash computes the SHA256 hash of a file
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
