package zfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullDatasetPath(t *testing.T) {
	assert.Equal(t, "tank/pgbranch/demo-main", FullDatasetPath("tank", "pgbranch", "demo-main"))
}

func TestFullSnapshotName(t *testing.T) {
	assert.Equal(t, "tank/pgbranch/demo-main@2026-07-31T10-00-00-000", FullSnapshotName("tank/pgbranch/demo-main", "2026-07-31T10-00-00-000", ""))
	assert.Equal(t, "tank/pgbranch/demo-main@2026-07-31T10-00-00-000-pre-migration",
		FullSnapshotName("tank/pgbranch/demo-main", "2026-07-31T10-00-00-000", "pre-migration"))
}

func TestStamp_IsSortableAndSafe(t *testing.T) {
	ts := time.Date(2026, 7, 31, 10, 0, 0, 123000000, time.UTC)
	got := Stamp(ts)
	assert.Equal(t, "2026-07-31T10-00-00-123", got)
}

func TestFake_CreateCloneAndPromote(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	ds := FullDatasetPath("tank", "pgbranch", "demo-main")
	require.NoError(t, f.CreateDataset(ctx, ds, DatasetOptions{Compression: "lz4"}))

	ok, err := f.DatasetExists(ctx, ds)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := f.CreateSnapshot(ctx, ds, "2026-07-31T10-00-00-000")
	require.NoError(t, err)
	assert.Equal(t, ds+"@2026-07-31T10-00-00-000", snap)

	clone := FullDatasetPath("tank", "pgbranch", "demo-dev")
	require.NoError(t, f.CloneSnapshot(ctx, snap, clone))
	assert.Equal(t, snap, f.Origins[clone])

	require.NoError(t, f.PromoteClone(ctx, clone))
	_, stillOrigin := f.Origins[clone]
	assert.False(t, stillOrigin)
}

func TestFake_DestroyDatasetRemovesSnapshots(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	ds := FullDatasetPath("tank", "pgbranch", "demo-main")
	require.NoError(t, f.CreateDataset(ctx, ds, DatasetOptions{}))
	_, err := f.CreateSnapshot(ctx, ds, "2026-07-31T10-00-00-000")
	require.NoError(t, err)

	require.NoError(t, f.DestroyDataset(ctx, ds, true))
	snaps, err := f.ListSnapshots(ctx, ds)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestIsBenignError(t *testing.T) {
	assert.True(t, isBenignError("cannot mount 'tank/pgbranch/demo-main': filesystem already mounted"))
	assert.True(t, isBenignError("cannot unmount 'tank/pgbranch/demo-main': not mounted"))
	assert.False(t, isBenignError("cannot create 'tank/pgbranch/demo-main': permission denied"))
}
