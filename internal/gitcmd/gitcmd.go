package gitcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrUnresolvableRef is returned when a ref cannot be turned into a commit,
// either because the remote is unreachable or because the ref does not exist.
var ErrUnresolvableRef = errors.New("ref cannot be resolved")

// Client provides the git operations needed to vendor a subdirectory
type Client interface {
	// CheckoutRef clones url into destDir and checks out ref, which may be
	// a branch name, a tag, or a commit hash (full or abbreviated). It
	// returns the full hash of the commit that was checked out.
	CheckoutRef(ctx context.Context, url, ref, destDir string) (string, error)

	// CommitAndPush stages everything in repoDir, commits it with message,
	// and pushes HEAD to the named branch on origin without forcing.
	// When the worktree is already clean it pushes nothing and reports
	// pushed=false with the current HEAD commit.
	CommitAndPush(ctx context.Context, repoDir, branch, message string) (commit string, pushed bool, err error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	gitBin         string
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command.
// gitBin may be empty to use "git" from PATH.
func NewShellClient(gitBin, sshKeyFile, httpsTokenFile string) *ShellClient {
	if gitBin == "" {
		gitBin = "git"
	}
	return &ShellClient{
		gitBin:         gitBin,
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// CheckoutRef clones url into destDir and checks out ref.
func (c *ShellClient) CheckoutRef(ctx context.Context, url, ref, destDir string) (string, error) {
	// Full clone, not shallow: ref may be an abbreviated hash that only a
	// complete object store can resolve.
	cmd := exec.CommandContext(ctx, c.gitBin, "clone", "--quiet", "--no-checkout", url, destDir)
	if err := c.configureAuth(cmd, url); err != nil {
		return "", err
	}
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("%w: clone of %s failed: %v", ErrUnresolvableRef, url, err)
	}

	commit, err := c.revParse(ctx, destDir, ref)
	if err != nil {
		return "", err
	}

	cmd = exec.CommandContext(ctx, c.gitBin, "-C", destDir, "checkout", "--quiet", "-f", commit)
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("git checkout of %s failed: %w", commit, err)
	}

	return commit, nil
}

// revParse resolves ref inside a fresh clone.
// Strategy (same order as checkout would use):
// 1. Try the ref directly (works for commit hashes, tags, the default branch)
// 2. Try it as a remote branch (origin/ref)
func (c *ShellClient) revParse(ctx context.Context, repoDir, ref string) (string, error) {
	for _, candidate := range []string{ref, "origin/" + ref} {
		cmd := exec.CommandContext(ctx, c.gitBin, "-C", repoDir, "rev-parse", "--verify", "--quiet", candidate+"^{commit}")
		output, err := cmd.Output()
		if err == nil {
			return strings.TrimSpace(string(output)), nil
		}
	}
	return "", fmt.Errorf("%w: %q does not name a commit", ErrUnresolvableRef, ref)
}

// CommitAndPush stages, commits and pushes local changes in repoDir.
func (c *ShellClient) CommitAndPush(ctx context.Context, repoDir, branch, message string) (string, bool, error) {
	cmd := exec.CommandContext(ctx, c.gitBin, "-C", repoDir, "add", "-A")
	if err := c.runCommand(cmd); err != nil {
		return "", false, fmt.Errorf("git add failed: %w", err)
	}

	clean, err := c.worktreeClean(ctx, repoDir)
	if err != nil {
		return "", false, err
	}
	if clean {
		head, err := c.revParse(ctx, repoDir, "HEAD")
		if err != nil {
			return "", false, err
		}
		return head, false, nil
	}

	// Identity fallbacks keep commit working on machines with no global
	// git config.
	cmd = exec.CommandContext(ctx, c.gitBin, "-C", repoDir,
		"-c", "user.name=git-subdir",
		"-c", "user.email=git-subdir@localhost",
		"commit", "--quiet", "-m", message)
	if err := c.runCommand(cmd); err != nil {
		return "", false, fmt.Errorf("git commit failed: %w", err)
	}

	// No --force: a non-fast-forward remote rejects the push, which is the
	// conflict signal the caller reports.
	cmd = exec.CommandContext(ctx, c.gitBin, "-C", repoDir, "push", "--quiet", "origin", "HEAD:refs/heads/"+branch)
	if err := c.configureAuth(cmd, ""); err != nil {
		return "", false, err
	}
	if err := c.runCommand(cmd); err != nil {
		return "", false, fmt.Errorf("git push to %s failed: %w", branch, err)
	}

	head, err := c.revParse(ctx, repoDir, "HEAD")
	if err != nil {
		return "", false, err
	}
	return head, true, nil
}

// worktreeClean reports whether repoDir has no staged or unstaged changes.
func (c *ShellClient) worktreeClean(ctx context.Context, repoDir string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.gitBin, "-C", repoDir, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return len(strings.TrimSpace(string(output))) == 0, nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (url == "" || strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && (url == "" || strings.HasPrefix(url, "https://")) {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		tokenStr := strings.TrimSpace(string(token))

		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "GIT_SUBDIR_TOKEN="+tokenStr)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$GIT_SUBDIR_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
