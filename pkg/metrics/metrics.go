// Package metrics exposes pgbranch's Prometheus metrics: counters for
// branching operations, gauges for live resource counts, and histograms for
// operation latency, registered as package-level vars in init().
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbranch_projects_total",
			Help: "Total number of projects tracked in state",
		},
	)

	BranchesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgbranch_branches_total",
			Help: "Total number of branches by status",
		},
		[]string{"status"},
	)

	SnapshotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbranch_snapshots_total",
			Help: "Total number of snapshots tracked in state",
		},
	)

	OrphanedDatasetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbranch_orphaned_datasets_total",
			Help: "ZFS datasets present on disk with no corresponding branch in state",
		},
	)

	OrphanedContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbranch_orphaned_containers_total",
			Help: "Containers present on the runtime with no corresponding branch in state",
		},
	)

	OrphanedBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbranch_orphaned_bytes_total",
			Help: "Disk space held by orphaned datasets, in bytes",
		},
	)

	BranchOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbranch_branch_operations_total",
			Help: "Total branch operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	BranchCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgbranch_branch_create_duration_seconds",
			Help:    "Time taken to create a branch, including clone and container startup",
			Buckets: prometheus.DefBuckets,
		},
	)

	BranchResetDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgbranch_branch_reset_duration_seconds",
			Help:    "Time taken to reset a branch to a snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgbranch_snapshot_create_duration_seconds",
			Help:    "Time taken to create an application-consistent snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerHealthWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgbranch_container_health_wait_duration_seconds",
			Help:    "Time spent polling a container until it became healthy",
			Buckets: prometheus.DefBuckets,
		},
	)

	CleanupCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgbranch_cleanup_cycles_total",
			Help: "Total number of orphan-cleanup cycles completed",
		},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbranch_rollbacks_total",
			Help: "Total number of operations that unwound via the rollback registry",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(BranchesTotal)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(OrphanedDatasetsTotal)
	prometheus.MustRegister(OrphanedContainersTotal)
	prometheus.MustRegister(OrphanedBytesTotal)
	prometheus.MustRegister(BranchOperationsTotal)
	prometheus.MustRegister(BranchCreateDuration)
	prometheus.MustRegister(BranchResetDuration)
	prometheus.MustRegister(SnapshotCreateDuration)
	prometheus.MustRegister(ContainerHealthWaitDuration)
	prometheus.MustRegister(CleanupCyclesTotal)
	prometheus.MustRegister(RollbacksTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
