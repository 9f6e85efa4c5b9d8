//go:build !windows

package certs

import "os"

func chownIfPossible(path string, uid, gid int) error {
	if err := os.Chown(path, uid, gid); err != nil {
		if os.IsPermission(err) {
			return nil
		}
		return err
	}
	return nil
}
