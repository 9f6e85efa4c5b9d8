// Package orphan detects datasets and containers that exist on disk or on
// the container runtime but have no corresponding record in the state
// store, and reports the disk space they waste. It runs a one-shot
// symmetric-difference check rather than a continuous health loop.
package orphan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/metrics"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

// StateReader is the narrow view of the state store this package needs.
type StateReader interface {
	Snapshot() (*types.State, error)
}

// Detector compares expected resources (from state) against actually
// existing resources (from the filesystem and container drivers).
type Detector struct {
	store      StateReader
	fs         zfs.Driver
	containers container.Driver
	pool       string
	base       string
}

// New returns a Detector wired to the given state store and drivers.
func New(store StateReader, fs zfs.Driver, containers container.Driver, pool, base string) *Detector {
	return &Detector{store: store, fs: fs, containers: containers, pool: pool, base: base}
}

// Report is the outcome of one detection pass.
type Report struct {
	OrphanedDatasets   []string
	OrphanedContainers []string
	WastedBytes        int64
}

// Detect computes the symmetric difference between the datasets/containers
// the state store expects and those that actually exist.
func (d *Detector) Detect(ctx context.Context) (Report, error) {
	logger := log.WithComponent("orphan")

	st, err := d.store.Snapshot()
	if err != nil {
		return Report{}, err
	}

	expectedDatasets := map[string]bool{}
	expectedContainers := map[string]bool{}
	for _, p := range st.Projects {
		for _, b := range p.Branches {
			expectedDatasets[zfs.FullDatasetPath(d.pool, d.base, b.ZFSDataset)] = true
			expectedContainers[types.ContainerName(p.Name, strings.TrimPrefix(b.Name, p.Name+"/"))] = true
		}
	}

	baseDataset := fmt.Sprintf("%s/%s", d.pool, d.base)
	actualDatasets, err := d.fs.ListDatasets(ctx, baseDataset)
	if err != nil {
		return Report{}, err
	}
	actualContainers, err := d.containers.ListContainers(ctx, types.ContainerNamePrefix)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, ds := range actualDatasets {
		if ds == baseDataset {
			continue
		}
		if !expectedDatasets[ds] {
			report.OrphanedDatasets = append(report.OrphanedDatasets, ds)
			used, err := d.fs.GetUsedSpace(ctx, ds)
			if err != nil {
				logger.Warn().Err(err).Str("dataset", ds).Msg("failed to measure orphaned dataset size")
				continue
			}
			report.WastedBytes += used
		}
	}
	for _, name := range actualContainers {
		if !expectedContainers[name] {
			report.OrphanedContainers = append(report.OrphanedContainers, name)
		}
	}

	metrics.OrphanedDatasetsTotal.Set(float64(len(report.OrphanedDatasets)))
	metrics.OrphanedContainersTotal.Set(float64(len(report.OrphanedContainers)))
	metrics.OrphanedBytesTotal.Set(float64(report.WastedBytes))
	metrics.CleanupCyclesTotal.Inc()

	return report, nil
}

// Reap removes every orphaned container and dataset the last Detect call
// found, best-effort: one failure is logged and does not stop the rest.
func (d *Detector) Reap(ctx context.Context, report Report) {
	logger := log.WithComponent("orphan")
	for _, name := range report.OrphanedContainers {
		id, err := d.containers.GetContainerByName(ctx, name)
		if err != nil || id == "" {
			continue
		}
		if err := d.containers.RemoveContainer(ctx, id, true); err != nil {
			logger.Warn().Err(err).Str("container", name).Msg("failed to reap orphaned container")
		}
	}
	for _, ds := range report.OrphanedDatasets {
		if err := d.fs.DestroyDataset(ctx, ds, true); err != nil {
			logger.Warn().Err(err).Str("dataset", ds).Msg("failed to reap orphaned dataset")
		}
	}
}

// pollInterval is how often a long-running `pgbranch doctor --watch`
// invocation re-checks for orphans. Exported so the CLI and tests agree on
// the same cadence.
const pollInterval = 5 * time.Minute

// PollInterval returns the default interval between orphan-detection
// cycles in a long-running watch.
func PollInterval() time.Duration { return pollInterval }
