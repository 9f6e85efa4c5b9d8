package controller

import (
	"context"

	"github.com/cuemby/pgbranch/pkg/orphan"
)

// CleanupResult summarizes one orphan-reconciliation pass.
type CleanupResult struct {
	orphan.Report
	Reaped bool
}

// Cleanup detects orphaned datasets and containers. With dryRun it only
// reports them; otherwise it removes containers first (they may hold
// dataset mounts open) and then destroys datasets, best-effort.
func (c *Controller) Cleanup(ctx context.Context, dryRun bool) (CleanupResult, error) {
	d := c.orphanDetector()
	report, err := d.Detect(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	if dryRun || (len(report.OrphanedDatasets) == 0 && len(report.OrphanedContainers) == 0) {
		return CleanupResult{Report: report}, nil
	}
	d.Reap(ctx, report)
	return CleanupResult{Report: report, Reaped: true}, nil
}
