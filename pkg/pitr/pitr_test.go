package pitr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgbranch/pkg/types"
)

type fakeLister struct {
	snapshots []*types.Snapshot
}

func (f fakeLister) GetForBranch(branchName string) ([]*types.Snapshot, error) {
	return f.snapshots, nil
}

func TestSelectSnapshot_ReturnsNewestBeforeTarget(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lister := fakeLister{snapshots: []*types.Snapshot{
		{ID: "s1", ZFSSnapshot: "tank/pgbranch/demo-main@t1", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "s2", ZFSSnapshot: "tank/pgbranch/demo-main@t2", CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "s3", ZFSSnapshot: "tank/pgbranch/demo-main@t3", CreatedAt: now.Add(time.Hour)}, // after target
	}}

	sel, err := SelectSnapshot(lister, "demo/main", now)
	require.NoError(t, err)
	assert.Equal(t, "s2", sel.Snapshot.ID)
}

func TestSelectSnapshot_NoneQualifiesIsUserError(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lister := fakeLister{snapshots: []*types.Snapshot{
		{ID: "s1", CreatedAt: now.Add(time.Hour)},
	}}
	_, err := SelectSnapshot(lister, "demo/main", now)
	require.Error(t, err)
}

func TestParseTime_Absolute(t *testing.T) {
	got, err := ParseTime("2025-10-07T14:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2025, got.Year())
}

func TestParseTime_Relative(t *testing.T) {
	got, err := ParseTime("3 hours ago")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-3*time.Hour), got, 5*time.Second)

	got, err = ParseTime("1 day ago")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), got, 5*time.Second)
}

func TestParseTime_UnknownIsUserError(t *testing.T) {
	_, err := ParseTime("last tuesday")
	require.Error(t, err)
}
