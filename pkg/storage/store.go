// Package storage implements pgbranch's persistent state store: a single
// JSON document (state.json) with atomic, crash-safe writes, an
// inter-process advisory lock, a one-generation backup, and typed views
// over projects, branches, and snapshots.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/types"
)

// CurrentVersion is written into newly-initialized state documents.
const CurrentVersion = "1"

// Store guards one state.json document. All mutating methods funnel
// through save(), which serializes writers within the process via mu and
// across processes via the lock file.
type Store struct {
	mu    sync.RWMutex
	path  string
	state *types.State
}

// New returns a Store bound to path (typically <configRoot>/state.json).
// Call Load before using it.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing state file path.
func (s *Store) Path() string { return s.path }

func (s *Store) backupPath() string { return s.path + ".backup" }
func (s *Store) tmpPath() string    { return s.path + ".tmp" }
func (s *Store) lockPath() string   { return s.path + ".lock" }

// Load reads the state document from disk. A missing file is not an
// error — the store is simply uninitialized until the first Save (see
// EnsureInitialized). A present file that fails validation is a fatal
// error requiring backup restore.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.state = nil
		return nil
	}
	if err != nil {
		return ctlerr.System(err, "failed to read state file %s", s.path)
	}

	var st types.State
	if err := json.Unmarshal(data, &st); err != nil {
		return ctlerr.System(err, "state file %s is corrupt", s.path)
	}
	if err := validate(&st); err != nil {
		return ctlerr.System(err, "state file %s fails invariant checks", s.path)
	}
	s.state = &st
	return nil
}

// Initialized reports whether a state document has been loaded or created.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != nil
}

// EnsureInitialized creates a fresh state document (pool/base recorded) if
// none exists yet. A no-op if already initialized.
func (s *Store) EnsureInitialized(pool, base string) error {
	s.mu.Lock()
	if s.state != nil {
		s.mu.Unlock()
		return nil
	}
	s.state = &types.State{
		Version:        CurrentVersion,
		InitializedAt:  time.Now().UTC(),
		ZFSPool:        pool,
		ZFSDatasetBase: base,
		Projects:       []*types.Project{},
		Snapshots:      []*types.Snapshot{},
	}
	s.mu.Unlock()
	return s.Save()
}

// Snapshot returns a deep-enough copy of the current state for read-only
// callers (e.g. the orphan detector) that must not hold the store lock
// while doing slow filesystem/container I/O.
func (s *Store) Snapshot() (*types.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, ctlerr.User("run `pgbranch setup` or create a project first", "state is not initialized")
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return nil, ctlerr.System(err, "failed to snapshot state")
	}
	var cp types.State
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, ctlerr.System(err, "failed to snapshot state")
	}
	return &cp, nil
}

// mutate runs fn with the in-process write lock held and the current state
// available for in-place modification, then persists the result. fn
// returning an error aborts without saving.
func (s *Store) mutate(fn func(*types.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return ctlerr.User("run `pgbranch setup` or create a project first", "state is not initialized")
	}
	if err := fn(s.state); err != nil {
		return err
	}
	if err := validate(s.state); err != nil {
		return ctlerr.System(err, "mutation produced an invalid state")
	}
	return s.save()
}

// Save persists the current in-memory state atomically. Exported for
// callers (the branching controller) that build up several mutations via
// the typed views and want a single explicit save point; most view methods
// already save on their own.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save implements the atomic-save protocol:
//  1. acquire the advisory file lock (with stale-lock recovery)
//  2. serialize to a sibling temp file and fsync it
//  3. copy the existing primary to a single-generation .backup
//  4. atomically rename temp over primary
//  5. fsync the containing directory
//  6. release the lock
//
// Caller must hold s.mu.
func (s *Store) save() error {
	if s.state == nil {
		return ctlerr.System(nil, "cannot save an uninitialized state store")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return ctlerr.System(err, "failed to create state directory")
	}

	unlock, err := acquireLock(s.lockPath())
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return ctlerr.System(err, "failed to marshal state")
	}

	tmp := s.tmpPath()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return ctlerr.System(err, "failed to open temp state file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return ctlerr.System(err, "failed to write temp state file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ctlerr.System(err, "failed to fsync temp state file")
	}
	if err := f.Close(); err != nil {
		return ctlerr.System(err, "failed to close temp state file")
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			return ctlerr.System(err, "failed to write state backup")
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return ctlerr.System(err, "failed to install new state file")
	}

	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}

	return nil
}

// RestoreFromBackup overwrites the primary state file with the single
// backup generation and reloads it.
func (s *Store) RestoreFromBackup() error {
	s.mu.Lock()
	if _, err := os.Stat(s.backupPath()); err != nil {
		s.mu.Unlock()
		return ctlerr.User("no backup is available to restore from", "backup file missing at %s", s.backupPath())
	}
	if err := copyFile(s.backupPath(), s.path); err != nil {
		s.mu.Unlock()
		return ctlerr.System(err, "failed to restore state from backup")
	}
	s.mu.Unlock()
	return s.Load()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".copytmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// validate checks referential integrity across projects, branches, and
// datasets. Any violation fails the whole load.
func validate(st *types.State) error {
	projectNames := map[string]bool{}
	branchNames := map[string]bool{}
	datasetNames := map[string]bool{}

	for _, p := range st.Projects {
		if projectNames[p.Name] {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		projectNames[p.Name] = true

		primaries := 0
		branchByID := map[string]*types.Branch{}
		for _, b := range p.Branches {
			branchByID[b.ID] = b
		}

		for _, b := range p.Branches {
			if branchNames[b.Name] {
				return fmt.Errorf("duplicate branch name %q", b.Name)
			}
			branchNames[b.Name] = true

			project, branch, ok := splitNamespace(b.Name)
			if !ok || project != p.Name || branch == "" {
				return fmt.Errorf("branch name %q is not of the form <project>/<branch> under project %q", b.Name, p.Name)
			}
			if b.ProjectName != p.Name {
				return fmt.Errorf("branch %q has projectName %q but lives under project %q", b.Name, b.ProjectName, p.Name)
			}

			wantDataset := types.DatasetName(p.Name, branch)
			if b.ZFSDataset != wantDataset {
				return fmt.Errorf("branch %q has dataset %q, expected %q", b.Name, b.ZFSDataset, wantDataset)
			}
			if datasetNames[b.ZFSDataset] {
				return fmt.Errorf("duplicate dataset name %q", b.ZFSDataset)
			}
			datasetNames[b.ZFSDataset] = true

			if b.IsPrimary {
				primaries++
				if b.ParentBranchID != "" {
					return fmt.Errorf("primary branch %q must not have a parent", b.Name)
				}
			} else {
				if b.ParentBranchID == "" {
					return fmt.Errorf("non-primary branch %q has no parent", b.Name)
				}
				if _, ok := branchByID[b.ParentBranchID]; !ok {
					return fmt.Errorf("branch %q has parent %q which does not resolve within project %q", b.Name, b.ParentBranchID, p.Name)
				}
			}
		}
		if primaries != 1 {
			return fmt.Errorf("project %q has %d primary branches, expected exactly 1", p.Name, primaries)
		}
	}
	return nil
}

func splitNamespace(name string) (project, branch string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			rest := name[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '/' {
					return "", "", false
				}
			}
			return name[:i], rest, true
		}
	}
	return "", "", false
}
