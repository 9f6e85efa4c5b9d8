// Package pitr selects the best snapshot to clone from for a
// point-in-time-recovery branch and parses the time expressions naming a
// recovery target.
package pitr
