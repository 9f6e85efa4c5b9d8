package snapshotsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

func TestCreateSnapshot_RunningBranchChecksPointsFirst(t *testing.T) {
	ctx := context.Background()
	fs := zfs.NewFake()
	ds := zfs.FullDatasetPath("tank", "pgbranch", "demo-main")
	require.NoError(t, fs.CreateDataset(ctx, ds, zfs.DatasetOptions{}))

	containers := container.NewFake()
	id, err := containers.CreateContainer(ctx, container.Spec{Name: "pgbranch-demo-main"})
	require.NoError(t, err)
	require.NoError(t, containers.StartContainer(ctx, id))

	svc := New(containers, fs)
	result, err := svc.CreateSnapshot(ctx, Request{
		FullDatasetPath: ds,
		Status:          types.BranchStatusRunning,
		ContainerName:   "pgbranch-demo-main",
		Username:        "postgres",
		Label:           "pre-migration",
	})
	require.NoError(t, err)
	assert.Contains(t, result.SnapshotName, "pre-migration")
	assert.Contains(t, result.FullSnapshotName, ds+"@")

	exists, err := fs.SnapshotExists(ctx, result.FullSnapshotName)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateSnapshot_RunningBranchMissingContainerIsUserError(t *testing.T) {
	ctx := context.Background()
	fs := zfs.NewFake()
	ds := zfs.FullDatasetPath("tank", "pgbranch", "demo-main")
	require.NoError(t, fs.CreateDataset(ctx, ds, zfs.DatasetOptions{}))

	svc := New(container.NewFake(), fs)
	_, err := svc.CreateSnapshot(ctx, Request{
		FullDatasetPath: ds,
		Status:          types.BranchStatusRunning,
		ContainerName:   "pgbranch-demo-main",
		Username:        "postgres",
	})
	require.Error(t, err)
}

func TestCreateSnapshot_StoppedBranchSkipsCheckpoint(t *testing.T) {
	ctx := context.Background()
	fs := zfs.NewFake()
	ds := zfs.FullDatasetPath("tank", "pgbranch", "demo-main")
	require.NoError(t, fs.CreateDataset(ctx, ds, zfs.DatasetOptions{}))

	svc := New(container.NewFake(), fs)
	result, err := svc.CreateSnapshot(ctx, Request{
		FullDatasetPath: ds,
		Status:          types.BranchStatusStopped,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.FullSnapshotName)
}
