//go:build e2e

package e2e

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jperla/git-subdir/internal/testutil"
)

// buildBinary compiles the git-subdir binary into dir and returns its path.
func buildBinary(dir string) (string, error) {
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return "", err
	}

	binPath := filepath.Join(dir, "git-subdir")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/git-subdir")
	cmd.Dir = projectRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.New(string(out))
	}
	return binPath, nil
}

// Harness runs the built git-subdir binary against one scratch working tree
type Harness struct {
	t        *testing.T
	binPath  string
	WorkTree string
}

// NewHarness creates a working tree for one test
func NewHarness(t *testing.T, binPath string) *Harness {
	t.Helper()
	return &Harness{
		t:        t,
		binPath:  binPath,
		WorkTree: t.TempDir(),
	}
}

// Run invokes git-subdir with args in the working tree and returns the exit
// code along with captured stdout and stderr.
func (h *Harness) Run(args ...string) (int, string, string) {
	h.t.Helper()

	cmd := exec.Command(h.binPath, args...)
	cmd.Dir = h.WorkTree

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			h.t.Fatalf("failed to run %s %v: %v", h.binPath, args, err)
		}
	}

	h.t.Logf("git-subdir %v -> %d", args, code)
	return code, stdout.String(), stderr.String()
}

// MustRun invokes git-subdir and fails the test on a non-zero exit.
func (h *Harness) MustRun(args ...string) string {
	h.t.Helper()
	code, stdout, stderr := h.Run(args...)
	if code != 0 {
		h.t.Fatalf("git-subdir %v exited %d: %s", args, code, stderr)
	}
	return stdout
}

// Git runs a git command for fixture setup.
func (h *Harness) Git(args ...string) string {
	h.t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		h.t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// FileExists reports whether rel exists under the working tree.
func (h *Harness) FileExists(rel string) bool {
	_, err := os.Stat(filepath.Join(h.WorkTree, rel))
	return err == nil
}

// WriteFile writes a fixture file relative to dir.
func (h *Harness) WriteFile(dir, rel, content string) {
	h.t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatal(err)
	}
}

// SetupRemote builds the fixture "remote" repository with two commits on
// master and returns its path plus the first commit's hash. The second
// commit adds files so tests can tell the two states apart.
func (h *Harness) SetupRemote() (string, string) {
	h.t.Helper()

	repoDir := filepath.Join(h.t.TempDir(), "remote")
	h.Git("init", "-q", "-b", "master", repoDir)
	h.Git("-C", repoDir, "config", "user.email", "test@test.com")
	h.Git("-C", repoDir, "config", "user.name", "Test")

	h.WriteFile(repoDir, "pebbles.js", "js\n")
	h.WriteFile(repoDir, "README", "readme\n")
	h.WriteFile(repoDir, "test/index.html", "html\n")
	h.Git("-C", repoDir, "add", ".")
	h.Git("-C", repoDir, "commit", "-q", "-m", "initial")
	firstCommit := h.Git("-C", repoDir, "rev-parse", "HEAD")

	h.WriteFile(repoDir, "test/test2.js", "test2\n")
	h.WriteFile(repoDir, "test/index2.html", "html2\n")
	h.Git("-C", repoDir, "add", ".")
	h.Git("-C", repoDir, "commit", "-q", "-m", "add second test page")

	return repoDir, firstCommit
}
