package container

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

// Fake is an in-memory Driver for controller tests. Every container starts
// healthy as soon as it is started; ExecSQL always succeeds unless SQLErr
// is set.
type Fake struct {
	containers map[string]*fakeContainer
	nextID     int
	SQLErr     error
}

type fakeContainer struct {
	name    string
	running bool
	port    int
}

// NewFake returns an empty Fake driver.
func NewFake() *Fake {
	return &Fake{containers: map[string]*fakeContainer{}}
}

func (f *Fake) CreateContainer(ctx context.Context, spec Spec) (string, error) {
	for _, c := range f.containers {
		if c.name == spec.Name {
			return "", ctlerr.System(nil, "container %s already exists", spec.Name)
		}
	}
	f.nextID++
	id := fakeContainerID(f.nextID)
	port := spec.HostPort
	if port == 0 {
		port = 15432 + f.nextID
	}
	f.containers[id] = &fakeContainer{name: spec.Name, port: port}
	return id, nil
}

func (f *Fake) StartContainer(ctx context.Context, id string) error {
	c, ok := f.containers[id]
	if !ok {
		return ctlerr.System(nil, "container %s not found", id)
	}
	c.running = true
	return nil
}

func (f *Fake) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	c, ok := f.containers[id]
	if !ok {
		return ctlerr.System(nil, "container %s not found", id)
	}
	c.running = false
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, id string, force bool) error {
	delete(f.containers, id)
	return nil
}

func (f *Fake) RestartContainer(ctx context.Context, id string) error {
	c, ok := f.containers[id]
	if !ok {
		return ctlerr.System(nil, "container %s not found", id)
	}
	c.running = true
	return nil
}

func (f *Fake) GetContainerStatus(ctx context.Context, id string) (Status, error) {
	c, ok := f.containers[id]
	if !ok {
		return Status{}, ctlerr.System(nil, "container %s not found", id)
	}
	state := "exited"
	if c.running {
		state = "running"
	}
	return Status{ID: id, Running: c.running, State: state, Port: c.port}, nil
}

func (f *Fake) ContainerExists(ctx context.Context, name string) (bool, error) {
	id, err := f.GetContainerByName(ctx, name)
	return id != "", err
}

func (f *Fake) GetContainerByName(ctx context.Context, name string) (string, error) {
	for id, c := range f.containers {
		if c.name == name {
			return id, nil
		}
	}
	return "", nil
}

func (f *Fake) GetContainerPort(ctx context.Context, id string) (int, error) {
	c, ok := f.containers[id]
	if !ok {
		return 0, ctlerr.System(nil, "container %s not found", id)
	}
	return c.port, nil
}

func (f *Fake) ListContainers(ctx context.Context, namePrefix string) ([]string, error) {
	var out []string
	for _, c := range f.containers {
		if strings.HasPrefix(c.name, namePrefix) {
			out = append(out, c.name)
		}
	}
	return out, nil
}

func (f *Fake) WaitForHealthy(ctx context.Context, id, username string, timeout time.Duration) error {
	c, ok := f.containers[id]
	if !ok {
		return ctlerr.System(nil, "container %s not found", id)
	}
	if !c.running {
		return ctlerr.System(nil, "container %s did not become healthy within %s", id, timeout)
	}
	return nil
}

func (f *Fake) ExecSQL(ctx context.Context, id, sql, username, database string) (string, error) {
	if _, ok := f.containers[id]; !ok {
		return "", ctlerr.System(nil, "container %s not found", id)
	}
	if f.SQLErr != nil {
		return "", f.SQLErr
	}
	return "", nil
}

func (f *Fake) PullImage(ctx context.Context, ref string) error { return nil }

func (f *Fake) ImageExists(ctx context.Context, ref string) (bool, error) { return true, nil }

func (f *Fake) StartBackupMode(ctx context.Context, id, username, database string) error {
	_, err := f.ExecSQL(ctx, id, "pg_backup_start", username, database)
	return err
}

func (f *Fake) StopBackupMode(ctx context.Context, id, username, database string) error {
	_, err := f.ExecSQL(ctx, id, "pg_backup_stop", username, database)
	return err
}

func fakeContainerID(n int) string {
	return "fake-container-" + strconv.Itoa(n)
}
