package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerConfig_ArchivePolicyAndMounts(t *testing.T) {
	spec := Spec{
		Name:           "pgbranch-demo-main",
		Image:          "postgres:16-alpine",
		Username:       "postgres",
		Password:       "secret",
		Database:       "app",
		DataMountpoint: "/tank/pgbranch/demo-main",
		WALArchiveDir:  "/var/lib/pgbranch/wal-archive/demo-main",
		CertDir:        "/var/lib/pgbranch/certs/demo",
		HostPort:       15432,
	}
	cfg, hostCfg := ContainerConfig(spec)

	assert.Contains(t, cfg.Env, "POSTGRES_USER=postgres")
	assert.Contains(t, cfg.Env, "PGDATA=/var/lib/postgresql/data/pgdata")
	assert.Contains(t, cfg.Cmd, "archive_command=test ! -f /wal-archive/%f && cp %p /wal-archive/%f")
	assert.Contains(t, cfg.Cmd, "restore_command=cp /wal-archive/%f %p")
	assert.Contains(t, cfg.Cmd, "wal_level=replica")
	assert.Contains(t, cfg.Cmd, "wal_keep_size=1GB")

	require.Len(t, hostCfg.Mounts, 3)
	assert.Equal(t, "/var/lib/postgresql/data", string(hostCfg.Mounts[0].Target))
	assert.Equal(t, "/wal-archive", string(hostCfg.Mounts[1].Target))
	assert.Equal(t, "/etc/ssl/certs/postgresql", string(hostCfg.Mounts[2].Target))
	assert.True(t, hostCfg.Mounts[2].ReadOnly)
	assert.Equal(t, "unless-stopped", string(hostCfg.RestartPolicy.Name))

	binding := hostCfg.PortBindings["5432/tcp"]
	require.Len(t, binding, 1)
	assert.Equal(t, "15432", binding[0].HostPort)
}

func TestFake_CreateStartAndWaitForHealthy(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	id, err := f.CreateContainer(ctx, Spec{Name: "pgbranch-demo-main", HostPort: 15432})
	require.NoError(t, err)

	err = f.WaitForHealthy(ctx, id, "postgres", time.Second)
	require.Error(t, err)

	require.NoError(t, f.StartContainer(ctx, id))
	err = f.WaitForHealthy(ctx, id, "postgres", time.Second)
	require.NoError(t, err)

	status, err := f.GetContainerStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 15432, status.Port)
}

func TestFake_CreateContainerRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	_, err := f.CreateContainer(ctx, Spec{Name: "pgbranch-demo-main"})
	require.NoError(t, err)
	_, err = f.CreateContainer(ctx, Spec{Name: "pgbranch-demo-main"})
	require.Error(t, err)
}
