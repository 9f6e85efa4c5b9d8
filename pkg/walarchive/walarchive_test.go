package walarchive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureArchiveDir_ModeAndKeepFile(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	path, err := m.EnsureArchiveDir("demo-main")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "demo-main"), path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(dirMode), fi.Mode().Perm())

	_, err = os.Stat(filepath.Join(path, ".keep"))
	require.NoError(t, err)
}

func TestGetArchiveInfo_ExcludesHiddenFiles(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	_, err := m.EnsureArchiveDir("demo-main")
	require.NoError(t, err)

	path := m.GetArchivePath("demo-main")
	require.NoError(t, os.WriteFile(filepath.Join(path, "000000010000000000000001"), []byte("wal"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(path, "000000010000000000000002"), []byte("wal2"), 0640))

	info, err := m.GetArchiveInfo("demo-main")
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, int64(7), info.TotalBytes)
}

func TestCleanupWALsBefore_RemovesOldFilesOnly(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	_, err := m.EnsureArchiveDir("demo-main")
	require.NoError(t, err)
	path := m.GetArchivePath("demo-main")

	oldFile := filepath.Join(path, "000000010000000000000001")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0640))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	newFile := filepath.Join(path, "000000010000000000000002")
	require.NoError(t, os.WriteFile(newFile, []byte("new"), 0640))

	removed, err := m.CleanupWALsBefore("demo-main", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(newFile)
	require.NoError(t, err)
}

func TestVerifyArchiveIntegrity_DetectsGap(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	_, err := m.EnsureArchiveDir("demo-main")
	require.NoError(t, err)
	path := m.GetArchivePath("demo-main")

	for _, seg := range []string{
		"000000010000000000000001",
		"000000010000000000000002",
		"000000010000000000000005",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(path, seg), []byte("x"), 0640))
	}

	gaps, err := m.VerifyArchiveIntegrity("demo-main")
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "000000010000000000000002", gaps[0].After)
	assert.Equal(t, "000000010000000000000005", gaps[0].Before)
}

func TestSetupPITRecovery_WritesSignalAndConf(t *testing.T) {
	mountpoint := t.TempDir()
	m := NewManager(t.TempDir())

	target := RecoveryTarget{HasTime: true, Time: time.Date(2025, 10, 7, 14, 30, 0, 0, time.UTC)}
	require.NoError(t, m.SetupPITRecovery(mountpoint, "/wal-archive/demo-main", target))

	signal, err := os.Stat(filepath.Join(mountpoint, "pgdata", "recovery.signal"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), signal.Mode().Perm())

	conf, err := os.ReadFile(filepath.Join(mountpoint, "pgdata", "postgresql.auto.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "restore_command = 'cp /wal-archive/demo-main/%f %p'")
	assert.Contains(t, string(conf), "recovery_target_time = '2025-10-07 14:30:00'")
	assert.Contains(t, string(conf), "recovery_target_action = 'promote'")
}

func TestDeleteArchiveDir_MissingIsNotError(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.DeleteArchiveDir("does-not-exist"))
}
