package orphan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

type fakeStore struct{ state *types.State }

func (f fakeStore) Snapshot() (*types.State, error) { return f.state, nil }

func TestDetect_FindsOrphanedDatasetAndContainer(t *testing.T) {
	ctx := context.Background()
	fs := zfs.NewFake()
	containers := container.NewFake()

	expectedDS := zfs.FullDatasetPath("tank", "pgbranch", "demo-main")
	require.NoError(t, fs.CreateDataset(ctx, expectedDS, zfs.DatasetOptions{}))
	orphanDS := zfs.FullDatasetPath("tank", "pgbranch", "demo-leftover")
	require.NoError(t, fs.CreateDataset(ctx, orphanDS, zfs.DatasetOptions{}))

	_, err := containers.CreateContainer(ctx, container.Spec{Name: "pgbranch-demo-main"})
	require.NoError(t, err)
	_, err = containers.CreateContainer(ctx, container.Spec{Name: "pgbranch-demo-leftover"})
	require.NoError(t, err)

	state := &types.State{
		Projects: []*types.Project{{
			Name: "demo",
			Branches: []*types.Branch{
				{Name: "demo/main", ProjectName: "demo", IsPrimary: true, ZFSDataset: "demo-main"},
			},
		}},
	}

	d := New(fakeStore{state: state}, fs, containers, "tank", "pgbranch")
	report, err := d.Detect(ctx)
	require.NoError(t, err)

	assert.Contains(t, report.OrphanedDatasets, orphanDS)
	assert.Contains(t, report.OrphanedContainers, "pgbranch-demo-leftover")
	assert.NotContains(t, report.OrphanedDatasets, expectedDS)
}

func TestReap_RemovesOrphanedResources(t *testing.T) {
	ctx := context.Background()
	fs := zfs.NewFake()
	containers := container.NewFake()

	orphanDS := zfs.FullDatasetPath("tank", "pgbranch", "demo-leftover")
	require.NoError(t, fs.CreateDataset(ctx, orphanDS, zfs.DatasetOptions{}))
	_, err := containers.CreateContainer(ctx, container.Spec{Name: "pgbranch-demo-leftover"})
	require.NoError(t, err)

	d := New(fakeStore{state: &types.State{}}, fs, containers, "tank", "pgbranch")
	report := Report{OrphanedDatasets: []string{orphanDS}, OrphanedContainers: []string{"pgbranch-demo-leftover"}}
	d.Reap(ctx, report)

	exists, err := fs.DatasetExists(ctx, orphanDS)
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := containers.GetContainerByName(ctx, "pgbranch-demo-leftover")
	require.NoError(t, err)
	assert.Empty(t, id)
}
