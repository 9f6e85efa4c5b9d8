// Package container is pgbranch's PostgreSQL container driver.
//
// DockerDriver wraps a real docker/docker client behind the small
// DockerClient interface so the branching controller never imports the SDK
// directly; Fake implements the same Driver in memory for controller tests.
// ContainerConfig centralizes the archive/SSL/WAL command-line flags every
// PostgreSQL container is launched with, so creating a branch and
// recreating one after a reset always produce byte-identical configuration.
package container
