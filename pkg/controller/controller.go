// Package controller is pgbranch's integrative orchestration layer: the
// procedures that compose the state store, filesystem driver, container
// driver, WAL archive manager, cert generator, snapshot service, PITR
// service, and rollback registry into project/branch lifecycle operations.
package controller

import (
	"regexp"

	"github.com/rs/zerolog"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/metrics"
	"github.com/cuemby/pgbranch/pkg/orphan"
	"github.com/cuemby/pgbranch/pkg/pitr"
	"github.com/cuemby/pgbranch/pkg/snapshotsvc"
	"github.com/cuemby/pgbranch/pkg/storage"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/walarchive"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Controller wires every driver and service the branching operations need.
type Controller struct {
	Store      *storage.Store
	FS         zfs.Driver
	Containers container.Driver
	WAL        *walarchive.Manager
	CertRoot   string
	Pool       string
	Base       string

	logger zerolog.Logger
}

// New returns a Controller. pool and base name the root dataset path every
// branch's dataset is created under ("<pool>/<base>/<project>-<branch>").
func New(store *storage.Store, fs zfs.Driver, containers container.Driver, wal *walarchive.Manager, certRoot, pool, base string) *Controller {
	return &Controller{
		Store:      store,
		FS:         fs,
		Containers: containers,
		WAL:        wal,
		CertRoot:   certRoot,
		Pool:       pool,
		Base:       base,
		logger:     log.WithComponent("controller"),
	}
}

func (c *Controller) fullDataset(datasetName string) string {
	return zfs.FullDatasetPath(c.Pool, c.Base, datasetName)
}

func (c *Controller) snapshotService() *snapshotsvc.Service {
	return snapshotsvc.New(c.Containers, c.FS)
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return ctlerr.User("names may contain only letters, digits, '_' and '-'", "invalid name %q", name)
	}
	return nil
}

// orphanDetector builds a fresh orphan.Detector bound to this controller's
// store and drivers, for use by Cleanup.
func (c *Controller) orphanDetector() *orphan.Detector {
	return orphan.New(c.Store, c.FS, c.Containers, c.Pool, c.Base)
}

// refreshResourceGauges recomputes the projects/branches/snapshots gauges
// from the current state document. Called after every operation that adds
// or removes a project, branch, or snapshot record.
func (c *Controller) refreshResourceGauges() {
	if projects, err := c.Store.Projects().List(); err == nil {
		metrics.ProjectsTotal.Set(float64(len(projects)))
	}
	if branches, err := c.Store.Branches().ListAll(); err == nil {
		byStatus := map[types.BranchStatus]int{}
		for _, b := range branches {
			byStatus[b.Status]++
		}
		metrics.BranchesTotal.Reset()
		for status, n := range byStatus {
			metrics.BranchesTotal.WithLabelValues(string(status)).Set(float64(n))
		}
	}
	if snaps, err := c.Store.Snapshots().GetAll(); err == nil {
		metrics.SnapshotsTotal.Set(float64(len(snaps)))
	}
}

// selectPITRSnapshot resolves the snapshot a PITR branch clones from.
func (c *Controller) selectPITRSnapshot(sourceBranch, target string) (pitr.Selection, error) {
	when, err := pitr.ParseTime(target)
	if err != nil {
		return pitr.Selection{}, err
	}
	return pitr.SelectSnapshot(c.Store.Snapshots(), sourceBranch, when)
}

