// Package container adapts the branching controller to a Docker-compatible
// container runtime. The production driver wraps the real docker/docker
// client SDK behind a small DockerClient interface, so the controller and
// its tests never import the SDK directly.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/metrics"
)

// DockerClient is the slice of the docker/docker client SDK the driver
// needs. Abstracted so tests can inject a fake rather than talk to a real
// daemon.
type DockerClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (dockertypes.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Spec describes a single PostgreSQL container to create, carrying exactly
// the configuration a branch container needs.
type Spec struct {
	Name           string // container name, e.g. "pgbranch-demo-main"
	Image          string
	Username       string
	Password       string
	Database       string
	DataMountpoint string // cloned dataset mountpoint, bind-mounted to /var/lib/postgresql/data
	WALArchiveDir  string // bind-mounted to /wal-archive
	CertDir        string // bind-mounted read-only to /etc/ssl/certs/postgresql
	HostPort       int    // 0 requests an ephemeral port from the runtime
}

const (
	dataDir       = "/var/lib/postgresql/data"
	pgDataDir     = dataDir + "/pgdata"
	walArchiveDir = "/wal-archive"
	certMountDir  = "/etc/ssl/certs/postgresql"
	pgPort        = "5432/tcp"

	healthPollInterval = 100 * time.Millisecond
	defaultHealthyWait = 120 * time.Second
)

// ContainerConfig builds the container.Config/container.HostConfig pair for
// spec, exported so callers (and tests) can inspect exactly what would be
// sent to the daemon without constructing a Driver.
func ContainerConfig(spec Spec) (container.Config, container.HostConfig) {
	env := []string{
		"POSTGRES_USER=" + spec.Username,
		"POSTGRES_PASSWORD=" + spec.Password,
		"POSTGRES_DB=" + spec.Database,
		"PGDATA=" + pgDataDir,
	}

	cmd := []string{
		"postgres",
		"-c", "archive_mode=on",
		"-c", "archive_command=test ! -f " + walArchiveDir + "/%f && cp %p " + walArchiveDir + "/%f",
		"-c", "restore_command=cp " + walArchiveDir + "/%f %p",
		"-c", "wal_level=replica",
		"-c", "max_wal_senders=3",
		"-c", "wal_keep_size=1GB",
		"-c", "ssl=on",
		"-c", "ssl_cert_file=" + certMountDir + "/server.crt",
		"-c", "ssl_key_file=" + certMountDir + "/server.key",
	}

	cfg := container.Config{
		Image: spec.Image,
		Env:   env,
		Cmd:   cmd,
		ExposedPorts: nat.PortSet{
			nat.Port(pgPort): struct{}{},
		},
		Healthcheck: &container.HealthConfig{
			Test:     []string{"CMD-SHELL", "pg_isready -U " + spec.Username},
			Interval: 10 * time.Second,
			Timeout:  5 * time.Second,
			Retries:  3,
		},
	}

	hostPort := ""
	if spec.HostPort != 0 {
		hostPort = fmt.Sprintf("%d", spec.HostPort)
	}

	hostCfg := container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(pgPort): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
		},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.DataMountpoint, Target: dataDir},
			{Type: mount.TypeBind, Source: spec.WALArchiveDir, Target: walArchiveDir},
			{Type: mount.TypeBind, Source: spec.CertDir, Target: certMountDir, ReadOnly: true},
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	return cfg, hostCfg
}

// Status mirrors the subset of container state the controller inspects.
type Status struct {
	ID      string
	Running bool
	State   string
	Port    int
}

// Driver is the contract the branching controller consumes from the
// container layer.
type Driver interface {
	CreateContainer(ctx context.Context, spec Spec) (id string, err error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	RestartContainer(ctx context.Context, id string) error
	GetContainerStatus(ctx context.Context, id string) (Status, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	GetContainerByName(ctx context.Context, name string) (string, error)
	GetContainerPort(ctx context.Context, id string) (int, error)
	ListContainers(ctx context.Context, namePrefix string) ([]string, error)
	WaitForHealthy(ctx context.Context, id, username string, timeout time.Duration) error
	ExecSQL(ctx context.Context, id, sql, username, database string) (string, error)
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	StartBackupMode(ctx context.Context, id, username, database string) error
	StopBackupMode(ctx context.Context, id, username, database string) error
}

// DockerDriver is the production Driver backed by a real daemon.
type DockerDriver struct {
	cli DockerClient
}

// NewDockerDriver wraps an already-constructed DockerClient (typically
// *client.Client from the docker/docker SDK).
func NewDockerDriver(cli DockerClient) *DockerDriver {
	return &DockerDriver{cli: cli}
}

func (d *DockerDriver) CreateContainer(ctx context.Context, spec Spec) (string, error) {
	cfg, hostCfg := ContainerConfig(spec)
	resp, err := d.cli.ContainerCreate(ctx, &cfg, &hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", ctlerr.System(err, "failed to create container %s", spec.Name)
	}
	return resp.ID, nil
}

func (d *DockerDriver) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return ctlerr.System(err, "failed to start container %s", id)
	}
	return nil
}

func (d *DockerDriver) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return ctlerr.System(err, "failed to stop container %s", id)
	}
	return nil
}

func (d *DockerDriver) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil
		}
		return ctlerr.System(err, "failed to remove container %s", id)
	}
	return nil
}

func (d *DockerDriver) RestartContainer(ctx context.Context, id string) error {
	secs := 30
	if err := d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return ctlerr.System(err, "failed to restart container %s", id)
	}
	return nil
}

func (d *DockerDriver) GetContainerStatus(ctx context.Context, id string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return Status{}, ctlerr.System(err, "failed to inspect container %s", id)
	}
	st := Status{ID: info.ID, State: info.State.Status, Running: info.State.Running}
	st.Port = portFromInspect(info)
	return st, nil
}

func (d *DockerDriver) ContainerExists(ctx context.Context, name string) (bool, error) {
	id, err := d.GetContainerByName(ctx, name)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

func (d *DockerDriver) GetContainerByName(ctx context.Context, name string) (string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return "", ctlerr.System(err, "failed to list containers")
	}
	want := "/" + name
	for _, c := range containers {
		for _, n := range c.Names {
			if n == want {
				return c.ID, nil
			}
		}
	}
	return "", nil
}

func (d *DockerDriver) GetContainerPort(ctx context.Context, id string) (int, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, ctlerr.System(err, "failed to inspect container %s", id)
	}
	port := portFromInspect(info)
	if port == 0 {
		return 0, ctlerr.System(nil, "container %s has no published port %s", id, pgPort)
	}
	return port, nil
}

func (d *DockerDriver) ListContainers(ctx context.Context, namePrefix string) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, ctlerr.System(err, "failed to list containers")
	}
	var out []string
	for _, c := range containers {
		for _, n := range c.Names {
			n = strings.TrimPrefix(n, "/")
			if strings.HasPrefix(n, namePrefix) {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// WaitForHealthy polls readiness: inspect, sleep
// 100ms if not running, else probe with pg_isready.
func (d *DockerDriver) WaitForHealthy(ctx context.Context, id, username string, timeout time.Duration) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerHealthWaitDuration)

	if timeout <= 0 {
		timeout = defaultHealthyWait
	}
	deadline := time.Now().Add(timeout)
	for {
		info, err := d.cli.ContainerInspect(ctx, id)
		if err != nil {
			return ctlerr.System(err, "failed to inspect container %s while waiting for health", id)
		}
		if info.State.Running {
			if probeErr := d.probeReady(ctx, id, username); probeErr == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return ctlerr.System(nil, "container %s did not become healthy within %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return ctlerr.System(ctx.Err(), "wait for healthy canceled for container %s", id)
		case <-time.After(healthPollInterval):
		}
	}
}

func (d *DockerDriver) probeReady(ctx context.Context, id, username string) error {
	execResp, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          []string{"pg_isready", "-U", username},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ctlerr.System(err, "failed to create readiness probe for %s", id)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ctlerr.System(err, "failed to attach readiness probe for %s", id)
	}
	_, _ = stdcopy.StdCopy(io.Discard, io.Discard, attach.Reader)
	attach.Close()

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ctlerr.System(err, "failed to inspect readiness probe for %s", id)
	}
	if inspect.ExitCode != 0 {
		return ctlerr.System(nil, "pg_isready exited %d", inspect.ExitCode)
	}
	return nil
}

// ExecSQL runs a non-interactive psql exec inside the container and returns
// trimmed stdout; a non-zero exit or non-empty stderr is an error whose
// message is the captured stderr.
func (d *DockerDriver) ExecSQL(ctx context.Context, id, sql, username, database string) (string, error) {
	args := []string{"psql", "-U", username, "-t", "-A"}
	if database != "" {
		args = append(args, "-d", database)
	}
	if sql != "" {
		args = append(args, "-c", sql)
	} else {
		args = append(args, "-c", "SELECT 1")
	}

	execResp, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          args,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", ctlerr.System(err, "failed to create exec for container %s", id)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", ctlerr.System(err, "failed to attach exec for container %s", id)
	}
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
	attach.Close()

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", ctlerr.System(err, "failed to inspect exec for container %s", id)
	}

	out := strings.TrimSpace(stdout.String())
	if inspect.ExitCode != 0 {
		return "", ctlerr.System(nil, "%s", strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (d *DockerDriver) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return ctlerr.System(err, "failed to pull image %s", ref)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func (d *DockerDriver) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, ctlerr.System(err, "failed to list images")
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == ref {
				return true, nil
			}
		}
	}
	return false, nil
}

// StartBackupMode and StopBackupMode bracket a filesystem-level backup with
// pg_backup_start/pg_backup_stop so the controller can offer a non-snapshot
// backup path alongside application-consistent ZFS snapshots.
func (d *DockerDriver) StartBackupMode(ctx context.Context, id, username, database string) error {
	_, err := d.ExecSQL(ctx, id, "SELECT pg_backup_start('pgbranch', true)", username, database)
	return err
}

func (d *DockerDriver) StopBackupMode(ctx context.Context, id, username, database string) error {
	_, err := d.ExecSQL(ctx, id, "SELECT pg_backup_stop(true)", username, database)
	return err
}

func portFromInspect(info container.InspectResponse) int {
	if info.NetworkSettings == nil {
		return 0
	}
	bindings, ok := info.NetworkSettings.Ports[nat.Port(pgPort)]
	if !ok || len(bindings) == 0 {
		return 0
	}
	var port int
	fmt.Sscanf(bindings[0].HostPort, "%d", &port)
	return port
}
