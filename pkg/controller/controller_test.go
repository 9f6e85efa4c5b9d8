package controller

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/storage"
	"github.com/cuemby/pgbranch/pkg/walarchive"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	dir := t.TempDir()
	store := storage.New(filepath.Join(dir, "state.json"))
	require.NoError(t, store.Load())

	fs := zfs.NewFake()
	containers := container.NewFake()
	wal := walarchive.NewManager(filepath.Join(dir, "wal"))
	certRoot := filepath.Join(dir, "certs")

	return New(store, fs, containers, wal, certRoot, "tank", "pgbranch")
}

func TestCreateProject_CreatesRunningPrimaryBranch(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	project, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)

	assert.Equal(t, "demo", project.Name)
	require.Len(t, project.Branches, 1)
	assert.True(t, project.Branches[0].IsPrimary)
	assert.Equal(t, "demo/main", project.Branches[0].Name)
	assert.NotZero(t, project.Branches[0].Port)
	assert.NotEmpty(t, project.Credentials.Password)

	exists, err := c.FS.DatasetExists(ctx, c.fullDataset("demo-main"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateProject_RejectsDuplicateName(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)

	_, err = c.CreateProject(ctx, "demo", CreateProjectOptions{})
	assert.Error(t, err)
}

func TestCreateBranch_ClonesFromPrimaryAndRecordsLineage(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)

	branch, err := c.CreateBranch(ctx, "demo/feature", CreateBranchOptions{})
	require.NoError(t, err)

	assert.False(t, branch.IsPrimary)
	assert.Equal(t, "demo/feature", branch.Name)
	assert.NotEmpty(t, branch.ParentBranchID)
	assert.NotEmpty(t, branch.SnapshotName)

	exists, err := c.FS.DatasetExists(ctx, c.fullDataset("demo-feature"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateBranch_RejectsDuplicateTarget(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)
	_, err = c.CreateBranch(ctx, "demo/feature", CreateBranchOptions{})
	require.NoError(t, err)

	_, err = c.CreateBranch(ctx, "demo/feature", CreateBranchOptions{})
	assert.Error(t, err)
}

func TestResetBranch_SwapsDatasetAndKeepsPort(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)
	branch, err := c.CreateBranch(ctx, "demo/feature", CreateBranchOptions{})
	require.NoError(t, err)
	originalPort := branch.Port

	require.NoError(t, c.ResetBranch(ctx, "demo/feature", false))

	reset, err := c.Store.Branches().GetByNamespace("demo/feature")
	require.NoError(t, err)
	assert.Equal(t, originalPort, reset.Port)

	exists, err := c.FS.DatasetExists(ctx, c.fullDataset("demo-feature"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestResetBranch_RejectsPrimary(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)

	err = c.ResetBranch(ctx, "demo/main", false)
	assert.Error(t, err)
}

func TestDeleteBranch_RejectsDependentsWithoutForce(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)
	_, err = c.CreateBranch(ctx, "demo/feature", CreateBranchOptions{})
	require.NoError(t, err)
	_, err = c.CreateBranch(ctx, "demo/feature2", CreateBranchOptions{Parent: "demo/feature"})
	require.NoError(t, err)

	err = c.DeleteBranch(ctx, "demo/feature", false)
	assert.Error(t, err)

	require.NoError(t, c.DeleteBranch(ctx, "demo/feature", true))

	_, err = c.Store.Branches().GetByNamespace("demo/feature")
	assert.Error(t, err)
	_, err = c.Store.Branches().GetByNamespace("demo/feature2")
	assert.Error(t, err)
}

func TestDeleteProject_RemovesDatasetsAndState(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)

	require.NoError(t, c.DeleteProject(ctx, "demo", false))

	_, err = c.Store.Projects().GetByName("demo")
	assert.Error(t, err)

	exists, err := c.FS.DatasetExists(ctx, c.fullDataset("demo-main"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCleanup_DetectsAndReapsOrphans(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, "demo", CreateProjectOptions{})
	require.NoError(t, err)

	orphanDS := c.fullDataset("demo-leftover")
	require.NoError(t, c.FS.CreateDataset(ctx, orphanDS, zfs.DatasetOptions{}))

	dryRun, err := c.Cleanup(ctx, true)
	require.NoError(t, err)
	assert.Contains(t, dryRun.OrphanedDatasets, orphanDS)
	assert.False(t, dryRun.Reaped)

	exists, err := c.FS.DatasetExists(ctx, orphanDS)
	require.NoError(t, err)
	assert.True(t, exists)

	result, err := c.Cleanup(ctx, false)
	require.NoError(t, err)
	assert.True(t, result.Reaped)

	exists, err = c.FS.DatasetExists(ctx, orphanDS)
	require.NoError(t, err)
	assert.False(t, exists)
}
