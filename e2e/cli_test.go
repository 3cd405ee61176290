//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var binPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "git-subdir-e2e-*")
	if err != nil {
		panic(err)
	}

	binPath, err = buildBinary(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		panic("failed to build git-subdir: " + err.Error())
	}

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// oldFiles exist from the first commit on; newFiles only at master's tip.
var (
	oldFiles = []string{"pebbles.js", "README", "test/index.html"}
	newFiles = []string{"test/test2.js", "test/index2.html"}
)

// checkFiles asserts which fixture files are present under path.
func checkFiles(t *testing.T, h *Harness, path string, new bool) {
	t.Helper()
	for _, f := range oldFiles {
		if !h.FileExists(filepath.Join(path, f)) {
			t.Errorf("expected %s to exist", f)
		}
	}
	for _, f := range newFiles {
		if h.FileExists(filepath.Join(path, f)) != new {
			t.Errorf("file %s: present=%v, want %v", f, !new, new)
		}
	}
}

func TestHelp(t *testing.T) {
	h := NewHarness(t, binPath)

	code, stdout, _ := h.Run()
	if code != 0 {
		t.Fatalf("no-arg invocation exited %d, want 0", code)
	}
	for _, verb := range []string{"clone", "pull", "push", "rm"} {
		if !strings.Contains(stdout, verb) {
			t.Errorf("usage output does not mention %q", verb)
		}
	}
}

func TestCloneMasterExplicit(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, _ := h.SetupRemote()

	h.MustRun("clone", "sampledir/pebbles", remote, "master")
	checkFiles(t, h, "sampledir/pebbles", true)

	// Calling twice fails with the reserved exit code.
	code, stdout, _ := h.Run("clone", "sampledir/pebbles", remote, "master")
	if code != 1 {
		t.Errorf("second clone exited %d, want 1", code)
	}
	if !strings.Contains(stdout, "already cloned") {
		t.Errorf("stdout %q does not contain 'already cloned'", stdout)
	}
	checkFiles(t, h, "sampledir/pebbles", true)
}

func TestCloneMasterImplicitAndRm(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, _ := h.SetupRemote()

	h.MustRun("clone", "sampledir/pebbles", remote)
	checkFiles(t, h, "sampledir/pebbles", true)

	h.MustRun("rm", "sampledir/pebbles")
	if h.FileExists("sampledir/pebbles") {
		t.Error("directory still present after rm")
	}

	// The tracking record is gone too, so a second rm fails.
	code, _, _ := h.Run("rm", "sampledir/pebbles")
	if code == 0 || code == 1 {
		t.Errorf("second rm exited %d, want other non-zero", code)
	}
}

func TestCloneHash(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, firstCommit := h.SetupRemote()

	h.MustRun("clone", "sampledir/pebbles", remote, firstCommit[:8])
	checkFiles(t, h, "sampledir/pebbles", false)

	// Calling twice fails even with a different ref.
	code, stdout, _ := h.Run("clone", "sampledir/pebbles", remote, "master")
	if code != 1 {
		t.Errorf("second clone exited %d, want 1", code)
	}
	if !strings.Contains(stdout, "already cloned") {
		t.Errorf("stdout %q does not contain 'already cloned'", stdout)
	}
	checkFiles(t, h, "sampledir/pebbles", false)
}

func TestPullExplicit(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, firstCommit := h.SetupRemote()

	h.MustRun("clone", "sampledir/pebbles", remote, firstCommit[:8])
	checkFiles(t, h, "sampledir/pebbles", false)

	h.MustRun("pull", "sampledir/pebbles", "master")
	checkFiles(t, h, "sampledir/pebbles", true)
}

func TestPullImplicit(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, firstCommit := h.SetupRemote()

	h.MustRun("clone", "sampledir/pebbles", remote, firstCommit[:8])
	checkFiles(t, h, "sampledir/pebbles", false)

	// A bare pull moves a pinned import to the default branch tip.
	h.MustRun("pull", "sampledir/pebbles")
	checkFiles(t, h, "sampledir/pebbles", true)
}

func TestPullUntracked(t *testing.T) {
	h := NewHarness(t, binPath)

	code, _, stderr := h.Run("pull", "sampledir/pebbles")
	if code == 0 || code == 1 {
		t.Errorf("pull of untracked path exited %d, want other non-zero", code)
	}
	if !strings.Contains(stderr, "not tracked") {
		t.Errorf("stderr %q does not mention tracking", stderr)
	}
}

func TestCloneUnresolvableRef(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, _ := h.SetupRemote()

	code, _, _ := h.Run("clone", "sampledir/pebbles", remote, "no-such-branch")
	if code == 0 || code == 1 {
		t.Errorf("clone of bad ref exited %d, want other non-zero", code)
	}
	if h.FileExists("sampledir/pebbles") {
		t.Error("failed clone left a destination directory")
	}
	if h.FileExists(".subdirs") {
		data, _ := os.ReadFile(filepath.Join(h.WorkTree, ".subdirs"))
		if strings.Contains(string(data), "pebbles") {
			t.Error("failed clone left a tracking entry")
		}
	}
}

func TestStateFileIsInspectable(t *testing.T) {
	h := NewHarness(t, binPath)
	remote, _ := h.SetupRemote()

	h.MustRun("clone", "sampledir/pebbles", remote, "master")

	data, err := os.ReadFile(filepath.Join(h.WorkTree, ".subdirs"))
	if err != nil {
		t.Fatalf("state file missing: %v", err)
	}
	for _, want := range []string{"sampledir/pebbles", remote, "master"} {
		if !strings.Contains(string(data), want) {
			t.Errorf(".subdirs does not mention %q:\n%s", want, data)
		}
	}
}

func TestPushRoundTrip(t *testing.T) {
	h := NewHarness(t, binPath)

	// Push needs a bare remote; build it from the fixture repo.
	workRemote, _ := h.SetupRemote()
	bare := filepath.Join(t.TempDir(), "remote.git")
	h.Git("clone", "-q", "--bare", workRemote, bare)

	h.MustRun("clone", "sampledir/pebbles", bare, "master")

	h.WriteFile(h.WorkTree, "sampledir/pebbles/README", "locally edited\n")
	h.MustRun("push", "sampledir/pebbles")

	// A fresh clone from the remote sees the pushed edit.
	h2 := NewHarness(t, binPath)
	h2.MustRun("clone", "other/pebbles", bare, "master")
	data, err := os.ReadFile(filepath.Join(h2.WorkTree, "other/pebbles/README"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "locally edited\n" {
		t.Errorf("pushed change not visible downstream: %q", data)
	}
}
