// Package walarchive manages WAL archive directories, one per branch, that
// a PostgreSQL container's archive_command writes segments into and a
// restore_command reads them back from during PITR.
package walarchive
