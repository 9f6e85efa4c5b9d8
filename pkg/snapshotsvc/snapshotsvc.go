// Package snapshotsvc implements application-consistent snapshots: force a
// checkpoint inside the running PostgreSQL container, then immediately
// snapshot the underlying dataset so the capture requires no WAL replay to
// open.
package snapshotsvc

import (
	"context"
	"time"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/metrics"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

// Request describes the branch to snapshot.
type Request struct {
	FullDatasetPath string // e.g. "tank/pgbranch/demo-main"
	Status          types.BranchStatus
	ContainerName   string
	Username        string
	Label           string // optional
}

// Result is the snapshot this service created.
type Result struct {
	SnapshotName     string // "stamp[-label]", without the dataset prefix
	FullSnapshotName string
}

// Service creates application-consistent snapshots.
type Service struct {
	containers container.Driver
	fs         zfs.Driver
}

// New returns a Service driven by the given container and filesystem
// drivers.
func New(containers container.Driver, fs zfs.Driver) *Service {
	return &Service{containers: containers, fs: fs}
}

// CreateSnapshot runs the checkpoint-then-snapshot algorithm. If the branch
// is running, CHECKPOINT is executed immediately before the filesystem
// snapshot call, in the same call stack, with no intervening I/O — that
// ordering is the correctness condition.
func (s *Service) CreateSnapshot(ctx context.Context, req Request) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotCreateDuration)

	if req.Status == types.BranchStatusRunning {
		id, err := s.containers.GetContainerByName(ctx, req.ContainerName)
		if err != nil {
			return Result{}, err
		}
		if id == "" {
			return Result{}, ctlerr.User("start the branch before snapshotting it", "container %s not found", req.ContainerName)
		}
		if _, err := s.containers.ExecSQL(ctx, id, "CHECKPOINT", req.Username, ""); err != nil {
			return Result{}, ctlerr.WrapUser(err, "check PostgreSQL logs", "checkpoint failed for %s", req.ContainerName)
		}
	}

	stamp := zfs.Stamp(time.Now())
	name := labelStamp(stamp, req.Label)
	full, err := s.fs.CreateSnapshot(ctx, req.FullDatasetPath, name)
	if err != nil {
		return Result{}, err
	}

	log.WithSnapshot(full).Info().Msg("snapshot created")
	return Result{SnapshotName: name, FullSnapshotName: full}, nil
}

func labelStamp(stamp, label string) string {
	if label == "" {
		return stamp
	}
	return stamp + "-" + label
}
