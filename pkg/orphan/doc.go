// Package orphan finds ZFS datasets and containers left behind by
// interrupted or partially-failed operations: anything present on the
// filesystem/runtime with no matching branch record in state.
package orphan
