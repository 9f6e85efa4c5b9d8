package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/pgbranch/pkg/certs"
	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/metrics"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

// CreateProjectOptions configures a new project.
type CreateProjectOptions struct {
	Image       string
	Compression string
	RecordSize  string
}

const defaultImage = "postgres:16-alpine"

// CreateProject creates a project's dataset, certs, credentials, and a
// running primary branch, and records it in state.
func (c *Controller) CreateProject(ctx context.Context, name string, opts CreateProjectOptions) (project *types.Project, err error) {
	logger := c.logger.With().Str("project", name).Logger()
	logger.Info().Msg("creating project")
	defer func() {
		if err != nil {
			metrics.BranchOperationsTotal.WithLabelValues("create_project", "error").Inc()
			logger.Error().Err(err).Msg("create project failed")
			return
		}
		metrics.BranchOperationsTotal.WithLabelValues("create_project", "success").Inc()
		c.refreshResourceGauges()
		logger.Info().Msg("project created")
	}()

	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := c.Store.Projects().GetByName(name); err == nil {
		return nil, ctlerr.User("choose a different name or delete the existing project first", "project %q already exists", name)
	}

	image := opts.Image
	if image == "" {
		image = defaultImage
	}

	if err := c.Store.EnsureInitialized(c.Pool, c.Base); err != nil {
		return nil, err
	}

	datasetName := types.DatasetName(name, "main")
	fullDataset := c.fullDataset(datasetName)
	if err := c.FS.CreateDataset(ctx, fullDataset, zfs.DatasetOptions{Compression: opts.Compression, RecordSize: opts.RecordSize}); err != nil {
		return nil, err
	}
	if err := c.FS.MountDataset(ctx, fullDataset); err != nil {
		return nil, err
	}
	mountpoint, err := c.FS.GetMountpoint(ctx, fullDataset)
	if err != nil {
		return nil, err
	}

	certPaths, err := certs.EnsureProjectCert(c.CertRoot, name)
	if err != nil {
		return nil, err
	}

	password, err := generatePassword(12)
	if err != nil {
		return nil, err
	}

	if err := c.Containers.PullImage(ctx, image); err != nil {
		return nil, err
	}

	archivePath, err := c.WAL.EnsureArchiveDir(datasetName)
	if err != nil {
		return nil, err
	}

	containerName := types.ContainerName(name, "main")
	credentials := types.Credentials{Username: "postgres", Password: password, Database: name}

	id, err := c.Containers.CreateContainer(ctx, container.Spec{
		Name:           containerName,
		Image:          image,
		Username:       credentials.Username,
		Password:       credentials.Password,
		Database:       credentials.Database,
		DataMountpoint: mountpoint,
		WALArchiveDir:  archivePath,
		CertDir:        certPaths.Dir,
		HostPort:       0,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Containers.StartContainer(ctx, id); err != nil {
		return nil, err
	}
	if err := c.Containers.WaitForHealthy(ctx, id, credentials.Username, 120*time.Second); err != nil {
		return nil, err
	}

	port, err := c.Containers.GetContainerPort(ctx, id)
	if err != nil {
		return nil, err
	}
	used, err := c.FS.GetUsedSpace(ctx, fullDataset)
	if err != nil {
		return nil, err
	}

	branch := &types.Branch{
		ID:          uuid.NewString(),
		Name:        name + "/main",
		ProjectName: name,
		IsPrimary:   true,
		ZFSDataset:  datasetName,
		Port:        port,
		CreatedAt:   time.Now().UTC(),
		SizeBytes:   used,
		Status:      types.BranchStatusRunning,
	}
	project = &types.Project{
		ID:          uuid.NewString(),
		Name:        name,
		DockerImage: image,
		SSLCertDir:  certPaths.Dir,
		CreatedAt:   time.Now().UTC(),
		Credentials: credentials,
		Branches:    []*types.Branch{branch},
	}

	if err := c.Store.Projects().Add(project); err != nil {
		return nil, err
	}
	return project, nil
}

// DeleteProject removes a project and every branch it contains.
func (c *Controller) DeleteProject(ctx context.Context, name string, force bool) (err error) {
	logger := log.WithProject(name)
	logger.Info().Msg("deleting project")
	defer func() {
		if err != nil {
			metrics.BranchOperationsTotal.WithLabelValues("delete_project", "error").Inc()
			logger.Error().Err(err).Msg("delete project failed")
			return
		}
		metrics.BranchOperationsTotal.WithLabelValues("delete_project", "success").Inc()
		c.refreshResourceGauges()
		logger.Info().Msg("project deleted")
	}()

	project, err := c.Store.Projects().GetByName(name)
	if err != nil {
		return err
	}

	nonPrimary := 0
	for _, b := range project.Branches {
		if !b.IsPrimary {
			nonPrimary++
		}
	}
	if nonPrimary > 0 && !force {
		return ctlerr.User("pass --force to delete the project and all its branches", "project %q has %d non-primary branches", name, nonPrimary)
	}

	var wg sync.WaitGroup
	for _, b := range project.Branches {
		wg.Add(1)
		go func(b *types.Branch) {
			defer wg.Done()
			containerName := types.ContainerName(project.Name, branchShortName(b.Name))
			if id, err := c.Containers.GetContainerByName(ctx, containerName); err == nil && id != "" {
				_ = c.Containers.StopContainer(ctx, id, 30*time.Second)
				_ = c.Containers.RemoveContainer(ctx, id, true)
			}
		}(b)
	}
	wg.Wait()

	for i := len(project.Branches) - 1; i >= 0; i-- {
		b := project.Branches[i]
		_ = c.FS.DestroyDataset(ctx, c.fullDataset(b.ZFSDataset), true)
	}

	wg = sync.WaitGroup{}
	for _, b := range project.Branches {
		wg.Add(1)
		go func(b *types.Branch) {
			defer wg.Done()
			_ = c.WAL.DeleteArchiveDir(b.ZFSDataset)
		}(b)
	}
	wg.Wait()

	if err := certs.DeleteProjectCert(c.CertRoot, name); err != nil {
		return err
	}

	for _, b := range project.Branches {
		_ = c.Store.Snapshots().DeleteForBranch(b.Name)
	}
	return c.Store.Projects().Delete(name)
}

func branchShortName(namespaced string) string {
	_, branch, ok := types.ParseBranchName(namespaced)
	if !ok {
		return namespaced
	}
	return branch
}
