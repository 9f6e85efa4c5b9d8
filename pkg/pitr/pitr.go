// Package pitr selects the snapshot a point-in-time-recovery branch should
// be cloned from, and parses the absolute/relative time expressions that
// name the recovery target.
package pitr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/types"
)

// SnapshotLister is the narrow view of the state store this package needs.
type SnapshotLister interface {
	GetForBranch(branchName string) ([]*types.Snapshot, error)
}

// Selection is the outcome of selecting a snapshot for recovery.
type Selection struct {
	FullSnapshotName string
	SnapshotName     string
	Snapshot         *types.Snapshot
}

// SelectSnapshot loads every snapshot of sourceBranch, keeps those created
// before target, and returns the newest. Fails with a remediation-bearing
// user error if none qualifies.
func SelectSnapshot(store SnapshotLister, sourceBranch string, target time.Time) (Selection, error) {
	snapshots, err := store.GetForBranch(sourceBranch)
	if err != nil {
		return Selection{}, err
	}

	var candidates []*types.Snapshot
	for _, s := range snapshots {
		if s.CreatedAt.Before(target) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Selection{}, ctlerr.User(
			"create an earlier snapshot or choose a later recovery time",
			"no snapshot of %s exists before %s", sourceBranch, target.UTC().Format(time.RFC3339))
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	best := candidates[0]
	return Selection{FullSnapshotName: best.ZFSSnapshot, SnapshotName: shortSnapshotName(best.ZFSSnapshot), Snapshot: best}, nil
}

// shortSnapshotName strips the "<dataset>@" prefix off a full ZFS snapshot
// name, leaving the "stamp[-label]" suffix.
func shortSnapshotName(full string) string {
	if i := strings.IndexByte(full, '@'); i >= 0 {
		return full[i+1:]
	}
	return full
}

var relativePattern = regexp.MustCompile(`(?i)^(\d+)\s+(minute|minutes|hour|hours|day|days|week|weeks)\s+ago$`)

// ParseTime accepts an absolute ISO-8601 timestamp or a relative English
// expression of the form "<N> <unit> ago" (minute(s), hour(s), day(s),
// week(s)). Anything else is a user error.
func ParseTime(input string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	m := relativePattern.FindStringSubmatch(input)
	if m == nil {
		return time.Time{}, ctlerr.User(
			`use an ISO-8601 timestamp (2025-10-07T14:30:00Z) or "<N> <unit> ago"`,
			"cannot parse recovery time %q", input)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, ctlerr.User("use a whole number of units", "cannot parse recovery time %q", input)
	}

	var d time.Duration
	switch normalizeUnit(strings.ToLower(m[2])) {
	case "minute":
		d = time.Duration(n) * time.Minute
	case "hour":
		d = time.Duration(n) * time.Hour
	case "day":
		d = time.Duration(n) * 24 * time.Hour
	case "week":
		d = time.Duration(n) * 7 * 24 * time.Hour
	}
	return time.Now().Add(-d), nil
}

func normalizeUnit(unit string) string {
	switch unit {
	case "minutes":
		return "minute"
	case "hours":
		return "hour"
	case "days":
		return "day"
	case "weeks":
		return "week"
	default:
		return unit
	}
}
