//go:build !windows

package walarchive

import "os"

// chownIfPossible chowns path to uid:gid, tolerating EPERM when not running
// as root (local development, or a non-privileged test run) rather than
// failing the whole archive-directory setup over it.
func chownIfPossible(path string, uid, gid int) error {
	if err := os.Chown(path, uid, gid); err != nil {
		if os.IsPermission(err) {
			return nil
		}
		return err
	}
	return nil
}
