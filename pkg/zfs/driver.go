// Package zfs adapts the branching controller to a copy-on-write
// filesystem (conceptually ZFS). No Go bindings for ZFS exist worth
// vendoring, so the driver shells out to the zfs(8)/zpool(8) binaries:
// build argv, run it with exec.CommandContext, and parse the captured
// output.
package zfs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

// Driver is the contract the branching controller consumes from the
// filesystem layer, kept behind an interface so tests can swap in a fake.
type Driver interface {
	PoolExists(ctx context.Context, pool string) (bool, error)
	PoolStatus(ctx context.Context, pool string) (PoolStatus, error)

	CreateDataset(ctx context.Context, fullName string, opts DatasetOptions) error
	DestroyDataset(ctx context.Context, fullName string, recursive bool) error
	DatasetExists(ctx context.Context, fullName string) (bool, error)
	GetDataset(ctx context.Context, fullName string) (DatasetInfo, error)
	ListDatasets(ctx context.Context, under string) ([]string, error)
	SetProperty(ctx context.Context, fullName, key, value string) error
	GetProperty(ctx context.Context, fullName, key string) (string, error)
	MountDataset(ctx context.Context, fullName string) error
	UnmountDataset(ctx context.Context, fullName string) error
	RenameDataset(ctx context.Context, oldName, newName string) error
	GetMountpoint(ctx context.Context, fullName string) (string, error)
	GetUsedSpace(ctx context.Context, fullName string) (int64, error)

	CreateSnapshot(ctx context.Context, fullDataset, stamp string) (fullSnapshotName string, err error)
	DestroySnapshot(ctx context.Context, fullSnapshotName string) error
	SnapshotExists(ctx context.Context, fullSnapshotName string) (bool, error)
	ListSnapshots(ctx context.Context, fullDataset string) ([]string, error)
	GetSnapshotSize(ctx context.Context, fullSnapshotName string) (int64, error)

	CloneSnapshot(ctx context.Context, fullSnapshotName, targetFullDataset string) error
	PromoteClone(ctx context.Context, fullDataset string) error
}

// DatasetOptions configures a new dataset.
type DatasetOptions struct {
	Compression string // e.g. "lz4", "off"
	RecordSize  string // e.g. "8K"
	ATime       bool
}

// PoolStatus reports pool health and capacity.
type PoolStatus struct {
	Health    string
	SizeBytes int64
	AllocBytes int64
	FreeBytes int64
}

// DatasetInfo reports dataset usage and mount state.
type DatasetInfo struct {
	UsedBytes  int64
	AvailBytes int64
	ReferBytes int64
	Mountpoint string
	Created    time.Time
}

// runner abstracts process execution so tests can inject a fake; the real
// implementation shells out via exec.CommandContext (see exec.go).
type runner interface {
	run(ctx context.Context, name string, args ...string) (stdout string, err error)
}

// CLIDriver is the production Driver backed by the zfs/zpool binaries.
type CLIDriver struct {
	run runner
}

// NewCLIDriver returns a Driver that shells out to the system zfs/zpool
// binaries.
func NewCLIDriver() *CLIDriver {
	return &CLIDriver{run: execRunner{}}
}

const (
	msgAlreadyMounted       = "already mounted"
	msgNotMounted           = "not mounted"
	msgPrivilegedMountOnly  = "filesystem successfully created, but it may only be mounted by root"
)

// isBenignError reports whether err is one of the "successful failures"
// the driver swallows: ZFS may require elevated
// privilege to mount/unmount, and idempotent operations that find nothing
// to do are not errors.
func isBenignError(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, msgAlreadyMounted) ||
		strings.Contains(lower, msgNotMounted) ||
		strings.Contains(lower, "mountable only by privileged user") ||
		strings.Contains(lower, msgPrivilegedMountOnly)
}

func (d *CLIDriver) PoolExists(ctx context.Context, pool string) (bool, error) {
	_, err := d.run.run(ctx, "zpool", "list", "-H", "-o", "name", pool)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (d *CLIDriver) PoolStatus(ctx context.Context, pool string) (PoolStatus, error) {
	out, err := d.run.run(ctx, "zpool", "list", "-H", "-p", "-o", "health,size,alloc,free", pool)
	if err != nil {
		return PoolStatus{}, ctlerr.System(err, "failed to get status of pool %s", pool)
	}
	fields := strings.Fields(out)
	if len(fields) < 4 {
		return PoolStatus{}, ctlerr.System(nil, "unexpected zpool list output for %s: %q", pool, out)
	}
	size, _ := strconv.ParseInt(fields[1], 10, 64)
	alloc, _ := strconv.ParseInt(fields[2], 10, 64)
	free, _ := strconv.ParseInt(fields[3], 10, 64)
	return PoolStatus{Health: fields[0], SizeBytes: size, AllocBytes: alloc, FreeBytes: free}, nil
}

func (d *CLIDriver) CreateDataset(ctx context.Context, fullName string, opts DatasetOptions) error {
	args := []string{"create", "-p"}
	if opts.Compression != "" {
		args = append(args, "-o", "compression="+opts.Compression)
	}
	if opts.RecordSize != "" {
		args = append(args, "-o", "recordsize="+opts.RecordSize)
	}
	atime := "off"
	if opts.ATime {
		atime = "on"
	}
	args = append(args, "-o", "atime="+atime, fullName)

	out, err := d.run.run(ctx, "zfs", args...)
	if err != nil && !isBenignError(out) && !isBenignError(err.Error()) {
		return ctlerr.System(err, "failed to create dataset %s", fullName)
	}
	return nil
}

func (d *CLIDriver) DestroyDataset(ctx context.Context, fullName string, recursive bool) error {
	args := []string{"destroy"}
	if recursive {
		// -R (not -r) also cascades into dependent clones outside this
		// dataset's own snapshot hierarchy; without it, destroy fails
		// outright whenever a clone still references one of our snapshots.
		args = append(args, "-R")
	}
	args = append(args, fullName)
	if _, err := d.run.run(ctx, "zfs", args...); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "dataset does not exist") {
			return nil
		}
		return ctlerr.System(err, "failed to destroy dataset %s", fullName)
	}
	return nil
}

func (d *CLIDriver) DatasetExists(ctx context.Context, fullName string) (bool, error) {
	_, err := d.run.run(ctx, "zfs", "list", "-H", "-o", "name", fullName)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (d *CLIDriver) GetDataset(ctx context.Context, fullName string) (DatasetInfo, error) {
	out, err := d.run.run(ctx, "zfs", "list", "-H", "-p", "-o", "used,avail,refer,mountpoint,creation", fullName)
	if err != nil {
		return DatasetInfo{}, ctlerr.System(err, "failed to get dataset %s", fullName)
	}
	fields := strings.SplitN(strings.TrimRight(out, "\n"), "\t", 5)
	if len(fields) < 5 {
		fields = strings.Fields(out)
	}
	if len(fields) < 4 {
		return DatasetInfo{}, ctlerr.System(nil, "unexpected zfs list output for %s: %q", fullName, out)
	}
	used, _ := strconv.ParseInt(fields[0], 10, 64)
	avail, _ := strconv.ParseInt(fields[1], 10, 64)
	refer, _ := strconv.ParseInt(fields[2], 10, 64)
	info := DatasetInfo{UsedBytes: used, AvailBytes: avail, ReferBytes: refer, Mountpoint: fields[3]}
	if len(fields) >= 5 {
		if sec, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
			info.Created = time.Unix(sec, 0).UTC()
		}
	}
	return info, nil
}

func (d *CLIDriver) ListDatasets(ctx context.Context, under string) ([]string, error) {
	out, err := d.run.run(ctx, "zfs", "list", "-H", "-r", "-t", "filesystem", "-o", "name", under)
	if err != nil {
		return nil, ctlerr.System(err, "failed to list datasets under %s", under)
	}
	return splitLines(out), nil
}

func (d *CLIDriver) SetProperty(ctx context.Context, fullName, key, value string) error {
	if _, err := d.run.run(ctx, "zfs", "set", key+"="+value, fullName); err != nil {
		return ctlerr.System(err, "failed to set %s=%s on %s", key, value, fullName)
	}
	return nil
}

func (d *CLIDriver) GetProperty(ctx context.Context, fullName, key string) (string, error) {
	out, err := d.run.run(ctx, "zfs", "get", "-H", "-o", "value", key, fullName)
	if err != nil {
		return "", ctlerr.System(err, "failed to get %s on %s", key, fullName)
	}
	return strings.TrimSpace(out), nil
}

func (d *CLIDriver) MountDataset(ctx context.Context, fullName string) error {
	out, err := d.run.run(ctx, "zfs", "mount", fullName)
	if err != nil && !isBenignError(out) && !isBenignError(err.Error()) {
		return ctlerr.System(err, "failed to mount dataset %s", fullName)
	}
	return nil
}

func (d *CLIDriver) UnmountDataset(ctx context.Context, fullName string) error {
	out, err := d.run.run(ctx, "zfs", "unmount", fullName)
	if err != nil && !isBenignError(out) && !isBenignError(err.Error()) {
		return ctlerr.System(err, "failed to unmount dataset %s", fullName)
	}
	return nil
}

func (d *CLIDriver) RenameDataset(ctx context.Context, oldName, newName string) error {
	if _, err := d.run.run(ctx, "zfs", "rename", oldName, newName); err != nil {
		return ctlerr.System(err, "failed to rename dataset %s to %s", oldName, newName)
	}
	return nil
}

func (d *CLIDriver) GetMountpoint(ctx context.Context, fullName string) (string, error) {
	return d.GetProperty(ctx, fullName, "mountpoint")
}

func (d *CLIDriver) GetUsedSpace(ctx context.Context, fullName string) (int64, error) {
	info, err := d.GetDataset(ctx, fullName)
	if err != nil {
		return 0, err
	}
	return info.UsedBytes, nil
}

func (d *CLIDriver) CreateSnapshot(ctx context.Context, fullDataset, stamp string) (string, error) {
	full := fullDataset + "@" + stamp
	if _, err := d.run.run(ctx, "zfs", "snapshot", full); err != nil {
		return "", ctlerr.System(err, "failed to create snapshot %s", full)
	}
	return full, nil
}

func (d *CLIDriver) DestroySnapshot(ctx context.Context, fullSnapshotName string) error {
	if _, err := d.run.run(ctx, "zfs", "destroy", fullSnapshotName); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "dataset does not exist") {
			return nil
		}
		return ctlerr.System(err, "failed to destroy snapshot %s", fullSnapshotName)
	}
	return nil
}

func (d *CLIDriver) SnapshotExists(ctx context.Context, fullSnapshotName string) (bool, error) {
	_, err := d.run.run(ctx, "zfs", "list", "-H", "-t", "snapshot", "-o", "name", fullSnapshotName)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (d *CLIDriver) ListSnapshots(ctx context.Context, fullDataset string) ([]string, error) {
	out, err := d.run.run(ctx, "zfs", "list", "-H", "-t", "snapshot", "-o", "name", "-r", fullDataset)
	if err != nil {
		return nil, ctlerr.System(err, "failed to list snapshots of %s", fullDataset)
	}
	return splitLines(out), nil
}

func (d *CLIDriver) GetSnapshotSize(ctx context.Context, fullSnapshotName string) (int64, error) {
	out, err := d.run.run(ctx, "zfs", "list", "-H", "-p", "-t", "snapshot", "-o", "used", fullSnapshotName)
	if err != nil {
		return 0, ctlerr.System(err, "failed to get size of snapshot %s", fullSnapshotName)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, ctlerr.System(err, "unexpected snapshot size output %q", out)
	}
	return n, nil
}

func (d *CLIDriver) CloneSnapshot(ctx context.Context, fullSnapshotName, targetFullDataset string) error {
	if _, err := d.run.run(ctx, "zfs", "clone", "-p", fullSnapshotName, targetFullDataset); err != nil {
		return ctlerr.System(err, "failed to clone %s to %s", fullSnapshotName, targetFullDataset)
	}
	return nil
}

func (d *CLIDriver) PromoteClone(ctx context.Context, fullDataset string) error {
	if _, err := d.run.run(ctx, "zfs", "promote", fullDataset); err != nil {
		return ctlerr.System(err, "failed to promote clone %s", fullDataset)
	}
	return nil
}

func splitLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// FullDatasetPath returns "<pool>/<base>/<name>".
func FullDatasetPath(pool, base, name string) string {
	return fmt.Sprintf("%s/%s/%s", pool, base, name)
}

// Stamp formats t as the ISO-8601-with-dashes, millisecond-truncated
// timestamp used in snapshot names: YYYY-MM-DDTHH-MM-SS-mmm.
func Stamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15-04-05.000"))
}

// FullSnapshotName returns "<fullDatasetPath>@<stamp>[-<label>]".
func FullSnapshotName(fullDatasetPath, stamp, label string) string {
	if label == "" {
		return fullDatasetPath + "@" + stamp
	}
	return fullDatasetPath + "@" + stamp + "-" + label
}
