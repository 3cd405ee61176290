package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StateFileName is the name of the tracking file at the working tree root
const StateFileName = ".subdirs"

var (
	// ErrAlreadyTracked is returned when inserting an entry for a path that
	// already has one
	ErrAlreadyTracked = errors.New("path is already tracked")

	// ErrNotTracked is returned when updating or removing a path that has
	// no entry
	ErrNotTracked = errors.New("path is not tracked")

	// ErrCorruptState is returned when the state file exists but cannot be
	// parsed. It is never auto-repaired: discarding tracking history silently
	// would be worse than asking the user to intervene.
	ErrCorruptState = errors.New("state file is corrupt")
)

// Entry is one tracked vendor import.
type Entry struct {
	// Path is the vendored directory, relative to the working tree root.
	// Unique key within a store.
	Path string `yaml:"path"`
	// URL identifies the source repository. Immutable once set; rm and
	// re-clone to change it.
	URL string `yaml:"url"`
	// Ref is the last ref the user asked for (branch name or commit-ish).
	Ref string `yaml:"ref"`
	// Commit is the concrete commit hash materialized at Path.
	Commit string `yaml:"commit"`
	// Subdir is the path inside the source repository that is vendored.
	// Empty means the whole tree.
	Subdir string `yaml:"subdir,omitempty"`
}

// Store is the persisted mapping from vendored path to its origin.
// Entries keep insertion order so the state file diffs cleanly.
type Store struct {
	path    string
	entries []Entry
}

// fileFormat is the on-disk shape of the state file.
type fileFormat struct {
	Subdirs []Entry `yaml:"subdirs"`
}

// Load reads the state file from the working tree root. A missing file
// yields an empty store; an unparseable one yields ErrCorruptState.
func Load(workTree string) (*Store, error) {
	path := filepath.Join(workTree, StateFileName)

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}

	// Entries with no path or commit cannot have been written by a
	// successful clone.
	for _, e := range f.Subdirs {
		if e.Path == "" || e.Commit == "" {
			return nil, fmt.Errorf("%w: %s: entry missing path or commit", ErrCorruptState, path)
		}
	}

	s.entries = f.Subdirs
	return s, nil
}

// Path returns the location of the backing state file.
func (s *Store) Path() string {
	return s.path
}

// Entries returns the tracked entries in insertion order.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup returns the entry for path, if one exists.
func (s *Store) Lookup(path string) (Entry, bool) {
	for _, e := range s.entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Insert adds a new entry. It fails with ErrAlreadyTracked when the path
// already has one.
func (s *Store) Insert(entry Entry) error {
	if _, ok := s.Lookup(entry.Path); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, entry.Path)
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Update changes the ref and resolved commit of an existing entry. It fails
// with ErrNotTracked when no entry exists for path.
func (s *Store) Update(path, ref, commit string) error {
	for i := range s.entries {
		if s.entries[i].Path == path {
			s.entries[i].Ref = ref
			s.entries[i].Commit = commit
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotTracked, path)
}

// Remove deletes the entry for path. It fails with ErrNotTracked when no
// entry exists.
func (s *Store) Remove(path string) error {
	for i := range s.entries {
		if s.entries[i].Path == path {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotTracked, path)
}

// Save persists the store atomically: write to a temp file in the same
// directory, then rename over the state file. A crash mid-write cannot
// corrupt previously committed entries.
func (s *Store) Save() error {
	data, err := yaml.Marshal(fileFormat{Subdirs: s.entries})
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, ".subdirs-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}
