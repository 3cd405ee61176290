package gitcmd

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jperla/git-subdir/internal/testutil"
)

// runGit runs a git command for test fixture setup and fails the test on error.
func runGit(t *testing.T, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// initRepo creates a repo with an initial commit on the given branch.
func initRepo(t *testing.T, dir, branch string) {
	t.Helper()
	testutil.RequireGit(t)
	runGit(t, "init", "-q", "-b", branch, dir)
	runGit(t, "-C", dir, "config", "user.email", "test@test.com")
	runGit(t, "-C", dir, "config", "user.name", "Test")
}

// commitFile creates or overwrites a file and commits it, returning the commit hash.
func commitFile(t *testing.T, repoDir, name, content, msg string) string {
	t.Helper()
	path := filepath.Join(repoDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, "-C", repoDir, "add", name)
	runGit(t, "-C", repoDir, "commit", "-q", "-m", msg)
	return runGit(t, "-C", repoDir, "rev-parse", "HEAD")
}

func TestCheckoutRef_Branch(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "master")
	want := commitFile(t, remoteDir, "README", "hello\n", "initial")

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	commit, err := client.CheckoutRef(ctx, remoteDir, "master", destDir)
	if err != nil {
		t.Fatalf("CheckoutRef: %v", err)
	}
	if commit != want {
		t.Errorf("resolved commit = %s, want %s", commit, want)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "README"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Errorf("README content = %q", got)
	}
}

func TestCheckoutRef_AbbreviatedHash(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "master")
	first := commitFile(t, remoteDir, "README", "v1\n", "first")
	commitFile(t, remoteDir, "README", "v2\n", "second")

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	commit, err := client.CheckoutRef(ctx, remoteDir, first[:8], destDir)
	if err != nil {
		t.Fatalf("CheckoutRef: %v", err)
	}
	if commit != first {
		t.Errorf("resolved commit = %s, want %s", commit, first)
	}

	// The worktree must reflect the pinned commit, not the branch tip.
	got, err := os.ReadFile(filepath.Join(destDir, "README"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1\n" {
		t.Errorf("README content = %q, want v1", got)
	}
}

func TestCheckoutRef_NonDefaultBranch(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "master")
	commitFile(t, remoteDir, "README", "base\n", "base")
	runGit(t, "-C", remoteDir, "checkout", "-q", "-b", "feature")
	want := commitFile(t, remoteDir, "extra.txt", "feature\n", "feature work")
	runGit(t, "-C", remoteDir, "checkout", "-q", "master")

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	commit, err := client.CheckoutRef(ctx, remoteDir, "feature", destDir)
	if err != nil {
		t.Fatalf("CheckoutRef: %v", err)
	}
	if commit != want {
		t.Errorf("resolved commit = %s, want %s", commit, want)
	}
}

func TestCheckoutRef_UnknownRef(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "master")
	commitFile(t, remoteDir, "README", "hello\n", "initial")

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	_, err := client.CheckoutRef(ctx, remoteDir, "no-such-branch", destDir)
	if !errors.Is(err, ErrUnresolvableRef) {
		t.Errorf("expected ErrUnresolvableRef, got %v", err)
	}
}

func TestCheckoutRef_UnreachableRemote(t *testing.T) {
	testutil.RequireGit(t)
	ctx := context.Background()

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	_, err := client.CheckoutRef(ctx, filepath.Join(t.TempDir(), "missing"), "master", destDir)
	if !errors.Is(err, ErrUnresolvableRef) {
		t.Errorf("expected ErrUnresolvableRef, got %v", err)
	}
}

// setupBareRemote creates a bare remote with one commit on master and
// returns its path.
func setupBareRemote(t *testing.T) string {
	t.Helper()
	workDir := t.TempDir()
	initRepo(t, workDir, "master")
	commitFile(t, workDir, "README", "hello\n", "initial")

	bareDir := filepath.Join(t.TempDir(), "remote.git")
	runGit(t, "clone", "-q", "--bare", workDir, bareDir)
	return bareDir
}

func TestCommitAndPush(t *testing.T) {
	ctx := context.Background()
	bareDir := setupBareRemote(t)

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	if _, err := client.CheckoutRef(ctx, bareDir, "master", destDir); err != nil {
		t.Fatalf("CheckoutRef: %v", err)
	}

	if err := os.WriteFile(filepath.Join(destDir, "README"), []byte("updated\n"), 0644); err != nil {
		t.Fatal(err)
	}

	commit, pushed, err := client.CommitAndPush(ctx, destDir, "master", "vendored update")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}
	if !pushed {
		t.Fatal("expected pushed=true for a dirty worktree")
	}

	// The remote branch must now point at the new commit.
	remoteHead := runGit(t, "-C", bareDir, "rev-parse", "master")
	if remoteHead != commit {
		t.Errorf("remote master = %s, want %s", remoteHead, commit)
	}
}

func TestCommitAndPush_CleanWorktree(t *testing.T) {
	ctx := context.Background()
	bareDir := setupBareRemote(t)

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	head, err := client.CheckoutRef(ctx, bareDir, "master", destDir)
	if err != nil {
		t.Fatalf("CheckoutRef: %v", err)
	}

	commit, pushed, err := client.CommitAndPush(ctx, destDir, "master", "no-op")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}
	if pushed {
		t.Error("expected pushed=false for a clean worktree")
	}
	if commit != head {
		t.Errorf("commit = %s, want unchanged HEAD %s", commit, head)
	}
}

func TestCommitAndPush_NonFastForward(t *testing.T) {
	ctx := context.Background()
	bareDir := setupBareRemote(t)

	destDir := filepath.Join(t.TempDir(), "scratch")
	client := NewShellClient("", "", "")
	if _, err := client.CheckoutRef(ctx, bareDir, "master", destDir); err != nil {
		t.Fatalf("CheckoutRef: %v", err)
	}

	// Advance the remote behind our back.
	otherDir := filepath.Join(t.TempDir(), "other")
	runGit(t, "clone", "-q", bareDir, otherDir)
	runGit(t, "-C", otherDir, "config", "user.email", "test@test.com")
	runGit(t, "-C", otherDir, "config", "user.name", "Test")
	commitFile(t, otherDir, "README", "diverged\n", "divergent change")
	runGit(t, "-C", otherDir, "push", "-q", "origin", "master")

	if err := os.WriteFile(filepath.Join(destDir, "README"), []byte("stale\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, _, err := client.CommitAndPush(ctx, destDir, "master", "stale update")
	if err == nil {
		t.Fatal("expected non-fast-forward push to fail")
	}
}
