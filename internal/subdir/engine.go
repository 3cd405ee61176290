package subdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jperla/git-subdir/internal/gitcmd"
	"github.com/jperla/git-subdir/internal/store"
)

// DefaultRef is used when a verb is invoked without an explicit ref
const DefaultRef = "master"

// Engine implements the vendoring verbs over one working tree
type Engine struct {
	workTree   string
	store      *store.Store
	git        gitcmd.Client
	logger     *slog.Logger
	dryRun     bool
	defaultRef string
}

// NewEngine creates an engine for workTree. defaultRef may be empty to use
// the built-in default.
func NewEngine(workTree string, st *store.Store, gitClient gitcmd.Client, logger *slog.Logger, dryRun bool, defaultRef string) *Engine {
	if defaultRef == "" {
		defaultRef = DefaultRef
	}
	return &Engine{
		workTree:   workTree,
		store:      st,
		git:        gitClient,
		logger:     logger,
		dryRun:     dryRun,
		defaultRef: defaultRef,
	}
}

// destPath returns the absolute location of a vendored directory.
func (e *Engine) destPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workTree, path)
}

// normalize cleans a user-supplied path so it can serve as a store key.
func normalize(path string) string {
	return filepath.Clean(path)
}

// Clone vendors the subtree of url at ref into path and records the import.
// A path that is already tracked fails with store.ErrAlreadyTracked and the
// destination is left untouched.
func (e *Engine) Clone(ctx context.Context, path, url, ref, subdir string) error {
	path = normalize(path)
	if ref == "" {
		ref = e.defaultRef
	}

	if _, ok := e.store.Lookup(path); ok {
		return fmt.Errorf("%w: %s", store.ErrAlreadyTracked, path)
	}

	e.logger.Info("cloning subdir",
		"path", path,
		"url", url,
		"ref", ref,
		"dry_run", e.dryRun)

	commit, sourceDir, cleanup, err := e.fetchSubtree(ctx, url, ref, subdir)
	if err != nil {
		return err
	}
	defer cleanup()

	dest := e.destPath(path)
	plan, err := buildPlan(sourceDir, dest)
	if err != nil {
		return err
	}
	e.logPlan(plan)

	if e.dryRun {
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	sw, err := stageAndSwap(sourceDir, dest)
	if err != nil {
		return fmt.Errorf("failed to materialize %s: %w", path, err)
	}

	entry := store.Entry{Path: path, URL: url, Ref: ref, Commit: commit, Subdir: subdir}
	if err := e.store.Insert(entry); err != nil {
		_ = sw.rollback()
		return err
	}
	if err := e.store.Save(); err != nil {
		_ = sw.rollback()
		return fmt.Errorf("failed to record import: %w", err)
	}

	sw.commit()
	e.logger.Info("clone complete", "path", path, "commit", commit)
	return nil
}

// Pull updates a tracked path to ref. When ref is empty it targets the
// default branch, NOT the previously stored ref: an import pinned to a
// commit hash is expected to move to the branch tip on a bare pull.
func (e *Engine) Pull(ctx context.Context, path, ref string) error {
	path = normalize(path)

	entry, ok := e.store.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotTracked, path)
	}

	if ref == "" {
		ref = e.defaultRef
	}

	e.logger.Info("pulling subdir",
		"path", path,
		"url", entry.URL,
		"ref", ref,
		"previous_commit", entry.Commit,
		"dry_run", e.dryRun)

	commit, sourceDir, cleanup, err := e.fetchSubtree(ctx, entry.URL, ref, entry.Subdir)
	if err != nil {
		return err
	}
	defer cleanup()

	dest := e.destPath(path)
	plan, err := buildPlan(sourceDir, dest)
	if err != nil {
		return err
	}
	e.logPlan(plan)

	if e.dryRun {
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	sw, err := stageAndSwap(sourceDir, dest)
	if err != nil {
		return fmt.Errorf("failed to materialize %s: %w", path, err)
	}

	if err := e.store.Update(path, ref, commit); err != nil {
		_ = sw.rollback()
		return err
	}
	if err := e.store.Save(); err != nil {
		_ = sw.rollback()
		return fmt.Errorf("failed to record update: %w", err)
	}

	sw.commit()
	e.logger.Info("pull complete", "path", path, "commit", commit)
	return nil
}

// Remove deletes a tracked path's directory and its tracking record.
// The record goes first: a directory left behind by a failed delete is
// merely untracked, while a record pointing at a missing directory would
// violate the store invariant.
func (e *Engine) Remove(path string) error {
	path = normalize(path)

	if _, ok := e.store.Lookup(path); !ok {
		return fmt.Errorf("%w: %s", store.ErrNotTracked, path)
	}

	e.logger.Info("removing subdir", "path", path, "dry_run", e.dryRun)

	if e.dryRun {
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if err := e.store.Remove(path); err != nil {
		return err
	}
	if err := e.store.Save(); err != nil {
		return fmt.Errorf("failed to record removal: %w", err)
	}

	if err := os.RemoveAll(e.destPath(path)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	e.logger.Info("remove complete", "path", path)
	return nil
}

// Push publishes local modifications under a tracked path to the remote
// branch named by ref (default branch when empty). The push is never
// forced: if the remote moved since the branch tip was read, the push is
// rejected and the vendored copy is left unchanged.
func (e *Engine) Push(ctx context.Context, path, ref string) error {
	path = normalize(path)

	entry, ok := e.store.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotTracked, path)
	}

	if ref == "" {
		ref = e.defaultRef
	}

	e.logger.Info("pushing subdir",
		"path", path,
		"url", entry.URL,
		"ref", ref,
		"dry_run", e.dryRun)

	scratch, err := os.MkdirTemp("", "git-subdir-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	repoDir := filepath.Join(scratch, "repo")
	if _, err := e.git.CheckoutRef(ctx, entry.URL, ref, repoDir); err != nil {
		return err
	}

	targetDir := repoDir
	if entry.Subdir != "" {
		targetDir = filepath.Join(repoDir, entry.Subdir)
	}

	// Converge the checkout's subtree to the local vendored copy, then let
	// git decide whether anything actually changed.
	dest := e.destPath(path)
	plan, err := buildPlan(dest, targetDir)
	if err != nil {
		return err
	}
	e.logPlan(plan)

	if e.dryRun {
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if err := applyPlan(plan, targetDir); err != nil {
		return fmt.Errorf("failed to apply local changes: %w", err)
	}

	message := fmt.Sprintf("Update %s from git-subdir", subtreeName(entry))
	commit, pushed, err := e.git.CommitAndPush(ctx, repoDir, ref, message)
	if err != nil {
		return err
	}

	if !pushed {
		e.logger.Info("nothing to push", "path", path)
		return nil
	}

	if err := e.store.Update(path, ref, commit); err != nil {
		return err
	}
	if err := e.store.Save(); err != nil {
		return fmt.Errorf("failed to record push: %w", err)
	}

	e.logger.Info("push complete", "path", path, "commit", commit)
	return nil
}

// subtreeName describes what is being pushed, for the commit message.
func subtreeName(entry store.Entry) string {
	if entry.Subdir != "" {
		return entry.Subdir
	}
	return filepath.Base(entry.Path)
}

// fetchSubtree checks out url at ref in a scratch directory and returns the
// resolved commit and the directory holding the requested subtree. The
// cleanup func removes the scratch clone and is safe to call always.
func (e *Engine) fetchSubtree(ctx context.Context, url, ref, subdir string) (commit, sourceDir string, cleanup func(), err error) {
	scratch, err := os.MkdirTemp("", "git-subdir-*")
	if err != nil {
		return "", "", func() {}, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	cleanup = func() {
		_ = os.RemoveAll(scratch)
	}

	repoDir := filepath.Join(scratch, "repo")
	commit, err = e.git.CheckoutRef(ctx, url, ref, repoDir)
	if err != nil {
		cleanup()
		return "", "", func() {}, err
	}

	sourceDir = repoDir
	if subdir != "" {
		sourceDir = filepath.Join(repoDir, subdir)
		if info, serr := os.Stat(sourceDir); serr != nil || !info.IsDir() {
			cleanup()
			return "", "", func() {}, fmt.Errorf("subdir %q does not exist at %s", subdir, commit)
		}
	}

	return commit, sourceDir, cleanup, nil
}

// applyPlan executes the plan against targetDir. Used by push, where the
// target is a git worktree and per-file operations are wanted; clone and
// pull instead swap in a fully staged tree.
func applyPlan(plan *Plan, targetDir string) error {
	for _, op := range plan.Add {
		if err := copyFile(op.SourcePath, filepath.Join(targetDir, op.RelPath)); err != nil {
			return fmt.Errorf("failed to add %s: %w", op.RelPath, err)
		}
	}
	for _, op := range plan.Update {
		if err := copyFile(op.SourcePath, filepath.Join(targetDir, op.RelPath)); err != nil {
			return fmt.Errorf("failed to update %s: %w", op.RelPath, err)
		}
	}
	for _, op := range plan.Delete {
		if err := os.Remove(filepath.Join(targetDir, op.RelPath)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", op.RelPath, err)
		}
	}
	return nil
}

// logPlan logs the plan summary, with per-file detail at debug level.
func (e *Engine) logPlan(plan *Plan) {
	e.logger.Info("sync plan",
		"add", len(plan.Add),
		"update", len(plan.Update),
		"delete", len(plan.Delete))

	for _, op := range plan.Add {
		e.logger.Debug("plan: add", "file", op.RelPath)
	}
	for _, op := range plan.Update {
		e.logger.Debug("plan: update", "file", op.RelPath)
	}
	for _, op := range plan.Delete {
		e.logger.Debug("plan: delete", "file", op.RelPath)
	}
}
