// Package storage persists the branching controller's state document.
//
// Store.Load reads state.json (a missing file means "not initialized yet",
// not an error); Store.Save writes it back atomically: serialize to a
// sibling .tmp file, fsync it, copy the current primary to a single
// .backup generation, rename .tmp over the primary, then fsync the
// directory. An inter-process lock file (state.json.lock) guards the
// read-modify-write window across separate pgbranch invocations, with
// stale-lock recovery if the recorded pid is no longer alive.
//
// Callers never touch the JSON document directly; they go through the
// typed views (Projects, Branches, Snapshots), which validate the five
// invariants after every mutation before saving.
package storage
