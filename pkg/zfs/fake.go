package zfs

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

// Fake is an in-memory Driver for exercising the branching controller
// without a real pool. Datasets are tracked by full path; snapshots by
// "<dataset>@<stamp>"; clones record their origin snapshot so Promote can
// flip it.
type Fake struct {
	Datasets  map[string]*DatasetInfo
	Snapshots map[string]int64 // fullSnapshotName -> size bytes
	Origins   map[string]string // fullDataset -> origin fullSnapshotName, for clones
	Pools     map[string]PoolStatus
}

// NewFake returns an empty Fake driver with a single healthy "tank" pool.
func NewFake() *Fake {
	return &Fake{
		Datasets:  map[string]*DatasetInfo{},
		Snapshots: map[string]int64{},
		Origins:   map[string]string{},
		Pools:     map[string]PoolStatus{"tank": {Health: "ONLINE", SizeBytes: 1 << 40, FreeBytes: 1 << 39}},
	}
}

func (f *Fake) PoolExists(ctx context.Context, pool string) (bool, error) {
	_, ok := f.Pools[pool]
	return ok, nil
}

func (f *Fake) PoolStatus(ctx context.Context, pool string) (PoolStatus, error) {
	st, ok := f.Pools[pool]
	if !ok {
		return PoolStatus{}, ctlerr.System(nil, "pool %s not found", pool)
	}
	return st, nil
}

func (f *Fake) CreateDataset(ctx context.Context, fullName string, opts DatasetOptions) error {
	if _, exists := f.Datasets[fullName]; exists {
		return ctlerr.System(nil, "dataset %s already exists", fullName)
	}
	f.Datasets[fullName] = &DatasetInfo{Mountpoint: "/" + fullName, Created: time.Now().UTC()}
	return nil
}

func (f *Fake) DestroyDataset(ctx context.Context, fullName string, recursive bool) error {
	delete(f.Datasets, fullName)
	delete(f.Origins, fullName)
	if recursive {
		for name := range f.Snapshots {
			if strings.HasPrefix(name, fullName+"@") {
				delete(f.Snapshots, name)
			}
		}
	}
	return nil
}

func (f *Fake) DatasetExists(ctx context.Context, fullName string) (bool, error) {
	_, ok := f.Datasets[fullName]
	return ok, nil
}

func (f *Fake) GetDataset(ctx context.Context, fullName string) (DatasetInfo, error) {
	d, ok := f.Datasets[fullName]
	if !ok {
		return DatasetInfo{}, ctlerr.System(nil, "dataset %s not found", fullName)
	}
	return *d, nil
}

func (f *Fake) ListDatasets(ctx context.Context, under string) ([]string, error) {
	var out []string
	for name := range f.Datasets {
		if strings.HasPrefix(name, under) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *Fake) SetProperty(ctx context.Context, fullName, key, value string) error {
	return nil
}

func (f *Fake) GetProperty(ctx context.Context, fullName, key string) (string, error) {
	if key == "mountpoint" {
		if d, ok := f.Datasets[fullName]; ok {
			return d.Mountpoint, nil
		}
	}
	return "", nil
}

func (f *Fake) MountDataset(ctx context.Context, fullName string) error   { return nil }
func (f *Fake) UnmountDataset(ctx context.Context, fullName string) error { return nil }

func (f *Fake) RenameDataset(ctx context.Context, oldName, newName string) error {
	d, ok := f.Datasets[oldName]
	if !ok {
		return ctlerr.System(nil, "dataset %s not found", oldName)
	}
	delete(f.Datasets, oldName)
	f.Datasets[newName] = d
	return nil
}

func (f *Fake) GetMountpoint(ctx context.Context, fullName string) (string, error) {
	return f.GetProperty(ctx, fullName, "mountpoint")
}

func (f *Fake) GetUsedSpace(ctx context.Context, fullName string) (int64, error) {
	d, ok := f.Datasets[fullName]
	if !ok {
		return 0, ctlerr.System(nil, "dataset %s not found", fullName)
	}
	return d.UsedBytes, nil
}

func (f *Fake) CreateSnapshot(ctx context.Context, fullDataset, stamp string) (string, error) {
	if _, ok := f.Datasets[fullDataset]; !ok {
		return "", ctlerr.System(nil, "dataset %s not found", fullDataset)
	}
	full := fullDataset + "@" + stamp
	f.Snapshots[full] = 0
	return full, nil
}

func (f *Fake) DestroySnapshot(ctx context.Context, fullSnapshotName string) error {
	delete(f.Snapshots, fullSnapshotName)
	return nil
}

func (f *Fake) SnapshotExists(ctx context.Context, fullSnapshotName string) (bool, error) {
	_, ok := f.Snapshots[fullSnapshotName]
	return ok, nil
}

func (f *Fake) ListSnapshots(ctx context.Context, fullDataset string) ([]string, error) {
	var out []string
	for name := range f.Snapshots {
		if strings.HasPrefix(name, fullDataset+"@") {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *Fake) GetSnapshotSize(ctx context.Context, fullSnapshotName string) (int64, error) {
	size, ok := f.Snapshots[fullSnapshotName]
	if !ok {
		return 0, ctlerr.System(nil, "snapshot %s not found", fullSnapshotName)
	}
	return size, nil
}

func (f *Fake) CloneSnapshot(ctx context.Context, fullSnapshotName, targetFullDataset string) error {
	if _, ok := f.Snapshots[fullSnapshotName]; !ok {
		return ctlerr.System(nil, "snapshot %s not found", fullSnapshotName)
	}
	f.Datasets[targetFullDataset] = &DatasetInfo{Mountpoint: "/" + targetFullDataset, Created: time.Now().UTC()}
	f.Origins[targetFullDataset] = fullSnapshotName
	return nil
}

func (f *Fake) PromoteClone(ctx context.Context, fullDataset string) error {
	delete(f.Origins, fullDataset)
	return nil
}
