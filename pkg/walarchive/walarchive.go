// Package walarchive manages the per-branch WAL archive directories a
// PostgreSQL container's archive_command writes into: directory
// creation with ownership/mode, gap detection, and recovery setup.
package walarchive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

// postgresUID/GID is the Alpine PostgreSQL image's "postgres" user, used to
// chown archive directories so the container (running as that uid) can
// write into them.
const (
	postgresUID = 70
	postgresGID = 70
	dirMode     = 0770
)

// Manager owns every branch's archive directory under a single root.
type Manager struct {
	root string
}

// NewManager returns a Manager rooted at root (typically <config
// root>/wal-archive).
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// GetArchivePath returns "<root>/<project>-<branch>/".
func (m *Manager) GetArchivePath(datasetName string) string {
	return filepath.Join(m.root, datasetName)
}

// EnsureArchiveDir creates the archive directory for datasetName with mode
// 0770, owned by the PostgreSQL container's uid:gid, and drops a .keep
// placeholder. A no-op if the directory already exists.
func (m *Manager) EnsureArchiveDir(datasetName string) (string, error) {
	path := m.GetArchivePath(datasetName)
	if err := os.MkdirAll(path, dirMode); err != nil {
		return "", ctlerr.System(err, "failed to create WAL archive directory %s", path)
	}
	// MkdirAll applies mode & ^umask; enforce it explicitly so tests that
	// require exactly 0770 (not 0777, not masked differently) always pass.
	if err := os.Chmod(path, dirMode); err != nil {
		return "", ctlerr.System(err, "failed to set mode on %s", path)
	}
	if err := chownIfPossible(path, postgresUID, postgresGID); err != nil {
		return "", ctlerr.System(err, "failed to chown %s", path)
	}
	keep := filepath.Join(path, ".keep")
	if _, err := os.Stat(keep); os.IsNotExist(err) {
		if err := os.WriteFile(keep, nil, 0640); err != nil {
			return "", ctlerr.System(err, "failed to create %s", keep)
		}
		_ = chownIfPossible(keep, postgresUID, postgresGID)
	}
	return path, nil
}

// DeleteArchiveDir removes a branch's archive directory and everything in
// it. Missing directories are not an error.
func (m *Manager) DeleteArchiveDir(datasetName string) error {
	path := m.GetArchivePath(datasetName)
	if err := os.RemoveAll(path); err != nil {
		return ctlerr.System(err, "failed to delete WAL archive directory %s", path)
	}
	return nil
}

// Info reports the contents of an archive directory. Entries beginning
// with "." (notably .keep) are excluded from every count.
type Info struct {
	FileCount     int
	TotalBytes    int64
	OldestName    string
	NewestName    string
	OldestModTime time.Time
	NewestModTime time.Time
}

// GetArchiveInfo summarizes the WAL segments present for datasetName.
func (m *Manager) GetArchiveInfo(datasetName string) (Info, error) {
	path := m.GetArchivePath(datasetName)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, nil
		}
		return Info{}, ctlerr.System(err, "failed to read WAL archive directory %s", path)
	}

	var info Info
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info.FileCount++
		info.TotalBytes += fi.Size()
		if info.OldestName == "" || fi.ModTime().Before(info.OldestModTime) {
			info.OldestName = e.Name()
			info.OldestModTime = fi.ModTime()
		}
		if info.NewestName == "" || fi.ModTime().After(info.NewestModTime) {
			info.NewestName = e.Name()
			info.NewestModTime = fi.ModTime()
		}
	}
	return info, nil
}

// CleanupWALsBefore deletes every non-hidden WAL file modified before
// cutoff and returns how many were removed.
func (m *Manager) CleanupWALsBefore(datasetName string, cutoff time.Time) (int, error) {
	path := m.GetArchivePath(datasetName)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, ctlerr.System(err, "failed to read WAL archive directory %s", path)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(path, e.Name())); err != nil {
				return removed, ctlerr.System(err, "failed to remove WAL segment %s", e.Name())
			}
			removed++
		}
	}
	return removed, nil
}

// CleanupOldWALs is CleanupWALsBefore relative to now.
func (m *Manager) CleanupOldWALs(datasetName string, days int) (int, error) {
	return m.CleanupWALsBefore(datasetName, time.Now().AddDate(0, 0, -days))
}

// Gap describes a missing WAL segment number detected between two present
// segments in a lexicographically-sorted archive.
type Gap struct {
	After  string
	Before string
}

// VerifyArchiveIntegrity sorts file names lexicographically, parses each as
// a sequential hex WAL segment, and reports every skipped segment as a gap.
// Non-WAL-shaped names (e.g. stray files) are ignored rather than treated
// as gaps.
func (m *Manager) VerifyArchiveIntegrity(datasetName string) ([]Gap, error) {
	path := m.GetArchivePath(datasetName)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ctlerr.System(err, "failed to read WAL archive directory %s", path)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isWALSegmentName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var gaps []Gap
	for i := 1; i < len(names); i++ {
		prev, cur := names[i-1], names[i]
		prevN, err1 := strconv.ParseUint(prev, 16, 64)
		curN, err2 := strconv.ParseUint(cur, 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if curN > prevN+1 {
			gaps = append(gaps, Gap{After: prev, Before: cur})
		}
	}
	return gaps, nil
}

// isWALSegmentName reports whether name looks like a 24-character
// hexadecimal PostgreSQL WAL segment file name.
func isWALSegmentName(name string) bool {
	if len(name) != 24 {
		return false
	}
	for _, r := range name {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return false
		}
	}
	return true
}

// RecoveryTarget optionally bounds a PITR recovery to a point in time.
type RecoveryTarget struct {
	Time    time.Time
	HasTime bool
}

// SetupPITRecovery writes recovery.signal and postgresql.auto.conf under
// <mountpoint>/pgdata/ so the container, on next start, replays WAL from
// sourceArchivePath instead of its own archive.
func (m *Manager) SetupPITRecovery(mountpoint, sourceArchivePath string, target RecoveryTarget) error {
	pgdata := filepath.Join(mountpoint, "pgdata")
	if err := os.MkdirAll(pgdata, 0700); err != nil {
		return ctlerr.System(err, "failed to prepare %s", pgdata)
	}

	signalPath := filepath.Join(pgdata, "recovery.signal")
	if err := os.WriteFile(signalPath, nil, 0600); err != nil {
		return ctlerr.System(err, "failed to write %s", signalPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "restore_command = 'cp %s/%%f %%p'\n", sourceArchivePath)
	if target.HasTime {
		fmt.Fprintf(&b, "recovery_target_time = '%s'\n", target.Time.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "recovery_target_action = 'promote'\n")

	confPath := filepath.Join(pgdata, "postgresql.auto.conf")
	if err := os.WriteFile(confPath, []byte(b.String()), 0600); err != nil {
		return ctlerr.System(err, "failed to write %s", confPath)
	}
	return nil
}
