package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)
	require.NoError(t, s.Load())
	require.NoError(t, s.EnsureInitialized("tank", "pgbranch"))
	return s
}

func TestLoad_MissingFileIsNotInitialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)
	require.NoError(t, s.Load())
	assert.False(t, s.Initialized())
}

func TestEnsureInitialized_RoundTrips(t *testing.T) {
	s := newTestStore(t)

	reloaded := New(s.Path())
	require.NoError(t, reloaded.Load())
	require.True(t, reloaded.Initialized())

	snap, err := reloaded.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "tank", snap.ZFSPool)
	assert.Equal(t, "pgbranch", snap.ZFSDatasetBase)
}

func TestProjectsAndBranches_AddAndLookup(t *testing.T) {
	s := newTestStore(t)

	main := &types.Branch{
		ID:          "branch-1",
		Name:        "demo/main",
		ProjectName: "demo",
		IsPrimary:   true,
		ZFSDataset:  "demo-main",
		Status:      types.BranchStatusRunning,
		CreatedAt:   time.Now(),
	}
	project := &types.Project{
		ID:        "project-1",
		Name:      "demo",
		CreatedAt: time.Now(),
		Branches:  []*types.Branch{main},
	}
	require.NoError(t, s.Projects().Add(project))

	got, err := s.Projects().GetByName("demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)

	mainAgain, err := s.Branches().GetMain("demo")
	require.NoError(t, err)
	assert.Equal(t, "demo/main", mainAgain.Name)

	dev := &types.Branch{
		ID:             "branch-2",
		Name:           "demo/dev",
		ProjectName:    "demo",
		ParentBranchID: main.ID,
		ZFSDataset:     "demo-dev",
		Status:         types.BranchStatusRunning,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.Branches().Add("demo", dev))

	all, err := s.Branches().ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProjects_Add_DuplicateNameRejected(t *testing.T) {
	s := newTestStore(t)
	main := &types.Branch{ID: "b1", Name: "demo/main", ProjectName: "demo", IsPrimary: true, ZFSDataset: "demo-main"}
	project := &types.Project{ID: "p1", Name: "demo", Branches: []*types.Branch{main}}
	require.NoError(t, s.Projects().Add(project))

	dup := &types.Project{ID: "p2", Name: "demo", Branches: []*types.Branch{
		{ID: "b2", Name: "demo/main", ProjectName: "demo", IsPrimary: true, ZFSDataset: "demo-main"},
	}}
	err := s.Projects().Add(dup)
	require.Error(t, err)
}

func TestBranches_AddUnderMissingParentFailsValidation(t *testing.T) {
	s := newTestStore(t)
	project := &types.Project{ID: "p1", Name: "demo", Branches: []*types.Branch{
		{ID: "b1", Name: "demo/main", ProjectName: "demo", IsPrimary: true, ZFSDataset: "demo-main"},
	}}
	require.NoError(t, s.Projects().Add(project))

	orphanChild := &types.Branch{
		ID:             "b2",
		Name:           "demo/dev",
		ProjectName:    "demo",
		ParentBranchID: "does-not-exist",
		ZFSDataset:     "demo-dev",
	}
	err := s.Branches().Add("demo", orphanChild)
	require.Error(t, err)
}

func TestSnapshots_GetForBranch_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	older := &types.Snapshot{ID: "s1", BranchName: "demo/main", CreatedAt: now.Add(-time.Hour)}
	newer := &types.Snapshot{ID: "s2", BranchName: "demo/main", CreatedAt: now}
	require.NoError(t, s.Snapshots().Add(older))
	require.NoError(t, s.Snapshots().Add(newer))

	got, err := s.Snapshots().GetForBranch("demo/main")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID)
	assert.Equal(t, "s1", got[1].ID)
}

func TestSave_AtomicRoundTrip(t *testing.T) {
	s := newTestStore(t)
	project := &types.Project{ID: "p1", Name: "demo", Branches: []*types.Branch{
		{ID: "b1", Name: "demo/main", ProjectName: "demo", IsPrimary: true, ZFSDataset: "demo-main"},
	}}
	require.NoError(t, s.Projects().Add(project))

	reloaded := New(s.Path())
	require.NoError(t, reloaded.Load())
	got, err := reloaded.Projects().GetByName("demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
}

func TestRestoreFromBackup(t *testing.T) {
	s := newTestStore(t)
	project := &types.Project{ID: "p1", Name: "demo", Branches: []*types.Branch{
		{ID: "b1", Name: "demo/main", ProjectName: "demo", IsPrimary: true, ZFSDataset: "demo-main"},
	}}
	require.NoError(t, s.Projects().Add(project))

	// A second project save produces a .backup of the single-project state.
	project2 := &types.Project{ID: "p2", Name: "other", Branches: []*types.Branch{
		{ID: "b2", Name: "other/main", ProjectName: "other", IsPrimary: true, ZFSDataset: "other-main"},
	}}
	require.NoError(t, s.Projects().Add(project2))

	require.NoError(t, s.RestoreFromBackup())
	projects, err := s.Projects().List()
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}
