// Package snapshotsvc creates application-consistent ZFS snapshots of a
// running or stopped PostgreSQL branch.
package snapshotsvc
