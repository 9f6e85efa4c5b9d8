// Package zfs is pgbranch's copy-on-write filesystem driver.
//
// CLIDriver implements Driver by shelling out to zfs(8)/zpool(8); Fake
// implements it in memory for tests that exercise pkg/controller without a
// real pool. Dataset and snapshot naming follows FullDatasetPath and
// FullSnapshotName so callers never hand-build paths.
package zfs
