package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/jperla/git-subdir/internal/config"
	"github.com/jperla/git-subdir/internal/gitcmd"
	"github.com/jperla/git-subdir/internal/store"
	"github.com/jperla/git-subdir/internal/subdir"
)

// Exit codes. 1 is reserved for the already-cloned case so callers can
// distinguish it from every other failure.
const (
	exitOK            = 0
	exitAlreadyCloned = 1
	exitFailure       = 2
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	workTree  string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	err := fang.Execute(ctx, rootCmd, fang.WithVersion(buildVersion()))
	return exitCode(err)
}

// exitCode maps an error from a verb to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, store.ErrAlreadyTracked):
		return exitAlreadyCloned
	default:
		return exitFailure
	}
}

var rootCmd = &cobra.Command{
	Use:   "git-subdir",
	Short: "Vendor subdirectories of remote git repositories",
	Long: `git-subdir vendors a directory of a remote git repository into the local
working tree and tracks where it came from in a .subdirs file, so the copy
can later be updated or removed.

Verbs:
  clone   import a remote tree into a local directory and start tracking it
  pull    update a tracked directory to a remote ref
  push    publish local changes of a tracked directory upstream
  rm      delete a tracked directory and its tracking record`,
	SilenceUsage: true,
}

var cloneCmd = &cobra.Command{
	Use:   "clone <path> <url> [ref]",
	Short: "Vendor a remote tree into <path> and track it",
	Long: `Clone materializes the tree of <url> at [ref] (default "master") into
<path> as plain files, with no repository metadata, and records the import
in the .subdirs file.

Cloning a path that is already tracked fails; rm it first or pick another
path. A directory that merely exists on disk without a tracking entry is
not a conflict and will be replaced.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runClone,
}

var pullCmd = &cobra.Command{
	Use:   "pull <path> [ref]",
	Short: "Update a tracked directory to a remote ref",
	Long: `Pull re-materializes a tracked directory at [ref]. Files that no longer
exist at the new ref are removed: the directory converges to the exact
remote tree.

Without an explicit ref, pull targets the default branch even when the
directory was cloned pinned to a commit hash. Pin now, update to latest
later.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPull,
}

var pushCmd = &cobra.Command{
	Use:   "push <path> [ref]",
	Short: "Publish local changes of a tracked directory upstream",
	Long: `Push commits the current content of a tracked directory onto the remote
branch [ref] (default "master") and publishes it. The push is never forced:
when the remote branch has moved since it was read, the push is rejected
and nothing changes.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPush,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a tracked directory and its tracking record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("git-subdir %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/git-subdir/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workTree, "work-tree", "C", ".", "working tree root holding the .subdirs file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Verb flags
	cloneCmd.Flags().StringVar(&cloneSubdir, "subdir", "", "vendor only this path inside the source repository")
	for _, cmd := range []*cobra.Command{cloneCmd, pullCmd, pushCmd, rmCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	}

	// Add commands
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(versionCmd)
}

var cloneSubdir string

func runClone(cmd *cobra.Command, args []string) error {
	engine, lock, err := setupEngine()
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	path, url := args[0], args[1]
	ref := ""
	if len(args) > 2 {
		ref = args[2]
	}

	if err := engine.Clone(cmd.Context(), path, url, ref, cloneSubdir); err != nil {
		if errors.Is(err, store.ErrAlreadyTracked) {
			// The original callers grep stdout for this.
			fmt.Fprintf(cmd.OutOrStdout(), "%s already cloned\n", path)
		}
		return err
	}
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	engine, lock, err := setupEngine()
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	ref := ""
	if len(args) > 1 {
		ref = args[1]
	}
	return engine.Pull(cmd.Context(), args[0], ref)
}

func runPush(cmd *cobra.Command, args []string) error {
	engine, lock, err := setupEngine()
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	ref := ""
	if len(args) > 1 {
		ref = args[1]
	}
	return engine.Push(cmd.Context(), args[0], ref)
}

func runRm(cmd *cobra.Command, args []string) error {
	engine, lock, err := setupEngine()
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	return engine.Remove(args[0])
}

// setupEngine wires config, state store, lock and git client for one verb.
// The caller must release the returned lock on every path.
func setupEngine() (*subdir.Engine, *store.Lock, error) {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	lock, err := store.Acquire(workTree)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Load(workTree)
	if err != nil {
		_ = lock.Release()
		return nil, nil, err
	}

	gitClient := gitcmd.NewShellClient(cfg.Git.Binary, cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	engine := subdir.NewEngine(workTree, st, gitClient, logger, dryRun, cfg.Defaults.Ref)

	return engine, lock, nil
}

// setupLogger builds the slog logger. Logs go to stderr: stdout belongs to
// the verb output contract.
func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"path", configPath,
		"default_ref", cfg.Defaults.Ref,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

// buildVersion returns the full version string including commit and date.
func buildVersion() string {
	if commit == "none" && date == "unknown" {
		return version
	}
	shortCommit := commit
	if len(commit) > 7 {
		shortCommit = commit[:7]
	}
	return fmt.Sprintf("%s (%s, %s)", version, shortCommit, date)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
