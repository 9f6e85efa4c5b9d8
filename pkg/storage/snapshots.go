package storage

import (
	"sort"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/types"
)

// Snapshots returns the typed snapshot view over this store.
func (s *Store) Snapshots() *SnapshotsView { return &SnapshotsView{s} }

// SnapshotsView exposes snapshot-scoped accessors.
type SnapshotsView struct{ s *Store }

// Add appends a new snapshot record.
func (v *SnapshotsView) Add(snap *types.Snapshot) error {
	return v.s.mutate(func(st *types.State) error {
		st.Snapshots = append(st.Snapshots, snap)
		return nil
	})
}

// GetByID returns the snapshot with the given id.
func (v *SnapshotsView) GetByID(id string) (*types.Snapshot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, ctlerr.User("run `pgbranch setup` first", "state is not initialized")
	}
	for _, s := range v.s.state.Snapshots {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ctlerr.User("check `pgbranch snapshot list`", "snapshot %q not found", id)
}

// GetForBranch returns every snapshot belonging to branchName, newest first.
func (v *SnapshotsView) GetForBranch(branchName string) ([]*types.Snapshot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, nil
	}
	var out []*types.Snapshot
	for _, s := range v.s.state.Snapshots {
		if s.BranchName == branchName {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetForProject returns every snapshot belonging to any branch of projectName.
func (v *SnapshotsView) GetForProject(projectName string) ([]*types.Snapshot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, nil
	}
	var out []*types.Snapshot
	for _, s := range v.s.state.Snapshots {
		if s.ProjectName == projectName {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetAll returns every snapshot.
func (v *SnapshotsView) GetAll() ([]*types.Snapshot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, nil
	}
	out := make([]*types.Snapshot, len(v.s.state.Snapshots))
	copy(out, v.s.state.Snapshots)
	return out, nil
}

// Delete removes the snapshot with the given id.
func (v *SnapshotsView) Delete(id string) error {
	return v.s.mutate(func(st *types.State) error {
		for i, s := range st.Snapshots {
			if s.ID == id {
				st.Snapshots = append(st.Snapshots[:i], st.Snapshots[i+1:]...)
				return nil
			}
		}
		return ctlerr.User("check `pgbranch snapshot list`", "snapshot %q not found", id)
	})
}

// DeleteForBranch removes every snapshot belonging to branchName.
func (v *SnapshotsView) DeleteForBranch(branchName string) error {
	return v.s.mutate(func(st *types.State) error {
		kept := st.Snapshots[:0]
		for _, s := range st.Snapshots {
			if s.BranchName != branchName {
				kept = append(kept, s)
			}
		}
		st.Snapshots = kept
		return nil
	})
}

// DeleteOld removes every snapshot of branchName created before cutoff,
// returning how many were removed.
func (v *SnapshotsView) DeleteOld(branchName string, cutoff time.Time) (int, error) {
	removed := 0
	err := v.s.mutate(func(st *types.State) error {
		kept := st.Snapshots[:0]
		for _, s := range st.Snapshots {
			if s.BranchName == branchName && s.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		st.Snapshots = kept
		return nil
	})
	return removed, err
}
