package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

const (
	lockPollInterval = 100 * time.Millisecond
	lockTimeout      = 5 * time.Second
)

// acquireLock implements an exclusive-create lock protocol:
// a file containing our pid; on contention, read the holder's pid and probe
// liveness, reclaiming a dead holder's lock; otherwise poll every 100ms and
// give up after 5s with a SystemError. The returned func releases the lock.
func acquireLock(path string) (func(), error) {
	deadline := time.Now().Add(lockTimeout)
	pid := os.Getpid()

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			fmt.Fprintf(f, "%d", pid)
			f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, ctlerr.System(err, "failed to create lock file %s", path)
		}

		if holderDead(path) {
			_ = os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, ctlerr.System(nil, "timed out waiting for state lock %s after %s", path, lockTimeout)
		}
		time.Sleep(lockPollInterval)
	}
}

// holderDead reports whether the pid recorded in the lock file at path no
// longer corresponds to a live process. An unreadable or unparsable lock
// file is treated as stale.
func holderDead(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	// Signal 0 performs no-op existence/permission checks without killing
	// anything; ESRCH means the process is gone.
	return syscall.Kill(pid, 0) == syscall.ESRCH
}
