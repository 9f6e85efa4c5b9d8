package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/metrics"
	"github.com/cuemby/pgbranch/pkg/pitr"
	"github.com/cuemby/pgbranch/pkg/rollback"
	"github.com/cuemby/pgbranch/pkg/snapshotsvc"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/walarchive"
)

// CreateBranchOptions configures a new branch.
type CreateBranchOptions struct {
	Parent string // "<project>/<branch>"; defaults to "<project>/main"
	PITR   string // recovery target, absolute or relative; empty = normal mode
	Label  string // optional snapshot label for normal-mode creation
}

// CreateBranch clones target's parent (or a prior snapshot, for PITR) into
// a new independent branch.
func (c *Controller) CreateBranch(ctx context.Context, target string, opts CreateBranchOptions) (*types.Branch, error) {
	projectName, branchName, ok := types.ParseBranchName(target)
	if !ok {
		return nil, ctlerr.User(`name branches "<project>/<branch>"`, "invalid branch name %q", target)
	}
	if err := validateName(branchName); err != nil {
		return nil, err
	}

	parent := opts.Parent
	if parent == "" {
		parent = projectName + "/main"
	}
	parentProject, _, ok := types.ParseBranchName(parent)
	if !ok || parentProject != projectName {
		return nil, ctlerr.User("parent must belong to the same project", "parent %q is not in project %q", parent, projectName)
	}

	project, err := c.Store.Projects().GetByName(projectName)
	if err != nil {
		return nil, err
	}
	sourceBranch, err := c.Store.Branches().GetByNamespace(parent)
	if err != nil {
		return nil, err
	}
	if _, err := c.Store.Branches().GetByNamespace(target); err == nil {
		return nil, ctlerr.User("choose a different branch name", "branch %q already exists", target)
	}

	logger := c.logger.With().Str("branch", target).Str("parent", parent).Logger()
	logger.Info().Msg("creating branch")
	timer := metrics.NewTimer()

	reg := rollback.New()
	var commitErr error
	defer func() {
		timer.ObserveDuration(metrics.BranchCreateDuration)
		if commitErr != nil {
			metrics.BranchOperationsTotal.WithLabelValues("create", "error").Inc()
			logger.Error().Err(commitErr).Msg("create branch failed, unwinding")
			reg.Execute()
			metrics.RollbacksTotal.WithLabelValues("create_branch").Inc()
			return
		}
		metrics.BranchOperationsTotal.WithLabelValues("create", "success").Inc()
		c.refreshResourceGauges()
		logger.Info().Dur("elapsed", timer.Duration()).Msg("branch created")
	}()

	sourceDataset := c.fullDataset(sourceBranch.ZFSDataset)
	sourceContainerName := types.ContainerName(projectName, branchShortName(parent))

	var fullSnapshotName string
	if opts.PITR != "" {
		sel, err := c.selectPITRSnapshot(parent, opts.PITR)
		if err != nil {
			commitErr = err
			return nil, err
		}
		fullSnapshotName = sel.FullSnapshotName
	} else {
		res, err := c.snapshotService().CreateSnapshot(ctx, snapshotsvc.Request{
			FullDatasetPath: sourceDataset,
			Status:          sourceBranch.Status,
			ContainerName:   sourceContainerName,
			Username:        project.Credentials.Username,
			Label:           opts.Label,
		})
		if err != nil {
			commitErr = err
			return nil, err
		}
		fullSnapshotName = res.FullSnapshotName
		reg.Add(func() { _ = c.FS.DestroySnapshot(ctx, fullSnapshotName) })
	}

	targetDatasetName := types.DatasetName(projectName, branchName)
	targetDataset := c.fullDataset(targetDatasetName)
	if err := c.FS.CloneSnapshot(ctx, fullSnapshotName, targetDataset); err != nil {
		commitErr = err
		return nil, err
	}
	reg.Add(func() { _ = c.FS.DestroyDataset(ctx, targetDataset, true) })

	if err := c.FS.MountDataset(ctx, targetDataset); err != nil {
		commitErr = err
		return nil, err
	}
	mountpoint, err := c.FS.GetMountpoint(ctx, targetDataset)
	if err != nil {
		commitErr = err
		return nil, err
	}

	_ = c.WAL.DeleteArchiveDir(targetDatasetName)
	targetArchivePath, err := c.WAL.EnsureArchiveDir(targetDatasetName)
	if err != nil {
		commitErr = err
		return nil, err
	}

	archiveForContainer := targetArchivePath
	if opts.PITR != "" {
		sourceArchivePath, archErr := c.WAL.EnsureArchiveDir(sourceBranch.ZFSDataset)
		if archErr != nil {
			commitErr = archErr
			return nil, archErr
		}
		when, parseErr := pitr.ParseTime(opts.PITR)
		if parseErr != nil {
			commitErr = parseErr
			return nil, parseErr
		}
		recoveryTarget := walarchive.RecoveryTarget{Time: when, HasTime: true}
		if setupErr := c.WAL.SetupPITRecovery(mountpoint, sourceArchivePath, recoveryTarget); setupErr != nil {
			commitErr = setupErr
			return nil, setupErr
		}
		archiveForContainer = sourceArchivePath
	}

	if err := c.Containers.PullImage(ctx, project.DockerImage); err != nil {
		commitErr = err
		return nil, err
	}

	containerName := types.ContainerName(projectName, branchName)
	id, err := c.Containers.CreateContainer(ctx, container.Spec{
		Name:           containerName,
		Image:          project.DockerImage,
		Username:       project.Credentials.Username,
		Password:       project.Credentials.Password,
		Database:       project.Credentials.Database,
		DataMountpoint: mountpoint,
		WALArchiveDir:  archiveForContainer,
		CertDir:        project.SSLCertDir,
		HostPort:       0,
	})
	if err != nil {
		commitErr = err
		return nil, err
	}
	reg.Add(func() { _ = c.Containers.RemoveContainer(ctx, id, true) })

	if err := c.Containers.StartContainer(ctx, id); err != nil {
		commitErr = err
		return nil, err
	}
	if err := c.Containers.WaitForHealthy(ctx, id, project.Credentials.Username, 120*time.Second); err != nil {
		commitErr = err
		return nil, err
	}

	port, err := c.Containers.GetContainerPort(ctx, id)
	if err != nil {
		commitErr = err
		return nil, err
	}
	used, err := c.FS.GetUsedSpace(ctx, targetDataset)
	if err != nil {
		commitErr = err
		return nil, err
	}

	branch := &types.Branch{
		ID:             uuid.NewString(),
		Name:           target,
		ProjectName:    projectName,
		ParentBranchID: sourceBranch.ID,
		IsPrimary:      false,
		SnapshotName:   fullSnapshotName,
		ZFSDataset:     targetDatasetName,
		Port:           port,
		CreatedAt:      time.Now().UTC(),
		SizeBytes:      used,
		Status:         types.BranchStatusRunning,
	}
	if err := c.Store.Branches().Add(projectName, branch); err != nil {
		commitErr = err
		return nil, err
	}

	reg.Clear()
	return branch, nil
}

// ResetBranch replaces name's dataset with a fresh clone of its parent's
// current state, via a safe clone-then-swap sequence.
func (c *Controller) ResetBranch(ctx context.Context, name string, force bool) (err error) {
	logger := c.logger.With().Str("branch", name).Logger()
	logger.Info().Msg("resetting branch")
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.BranchResetDuration)
		if err != nil {
			metrics.BranchOperationsTotal.WithLabelValues("reset", "error").Inc()
			logger.Error().Err(err).Msg("reset branch failed")
			return
		}
		metrics.BranchOperationsTotal.WithLabelValues("reset", "success").Inc()
		c.refreshResourceGauges()
		logger.Info().Dur("elapsed", timer.Duration()).Msg("branch reset")
	}()

	branch, err := c.Store.Branches().GetByNamespace(name)
	if err != nil {
		return err
	}
	if branch.IsPrimary {
		return ctlerr.User("the primary branch has no parent to reset to", "cannot reset primary branch %q", name)
	}
	project, err := c.Store.Projects().GetByName(branch.ProjectName)
	if err != nil {
		return err
	}
	parent := findBranchByID(project, branch.ParentBranchID)
	if parent == nil {
		return ctlerr.System(nil, "branch %q has no resolvable parent", name)
	}

	dependents := childBranches(project, branch.ID)
	if len(dependents) > 0 && !force {
		return ctlerr.User("pass --force to reset and orphan its dependent branches", "branch %q has %d dependent branches", name, len(dependents))
	}
	for _, dep := range dependents {
		depContainer := types.ContainerName(project.Name, branchShortName(dep.Name))
		if id, err := c.Containers.GetContainerByName(ctx, depContainer); err == nil && id != "" {
			_ = c.Containers.StopContainer(ctx, id, 30*time.Second)
			_ = c.Containers.RemoveContainer(ctx, id, true)
		}
		_ = c.Store.Snapshots().DeleteForBranch(dep.Name)
		_ = c.Store.Branches().Delete(dep.Name)
	}

	containerName := types.ContainerName(project.Name, branchShortName(name))
	if id, err := c.Containers.GetContainerByName(ctx, containerName); err == nil && id != "" {
		_ = c.Containers.StopContainer(ctx, id, 30*time.Second)
		_ = c.Containers.RemoveContainer(ctx, id, true)
	}

	parentDataset := c.fullDataset(parent.ZFSDataset)
	parentContainerName := types.ContainerName(project.Name, branchShortName(parent.Name))
	snap, err := c.snapshotService().CreateSnapshot(ctx, snapshotsvc.Request{
		FullDatasetPath: parentDataset,
		Status:          parent.Status,
		ContainerName:   parentContainerName,
		Username:        project.Credentials.Username,
	})
	if err != nil {
		return err
	}

	targetDataset := c.fullDataset(branch.ZFSDataset)
	tempDataset := targetDataset + "-temp"
	oldDataset := targetDataset + "-old"

	if err := c.FS.CloneSnapshot(ctx, snap.FullSnapshotName, tempDataset); err != nil {
		return err
	}
	if err := c.FS.MountDataset(ctx, tempDataset); err != nil {
		_ = c.FS.DestroyDataset(ctx, tempDataset, true)
		return err
	}
	if err := c.FS.UnmountDataset(ctx, targetDataset); err != nil {
		return err
	}
	if err := c.FS.RenameDataset(ctx, targetDataset, oldDataset); err != nil {
		return err
	}
	if err := c.FS.UnmountDataset(ctx, tempDataset); err != nil {
		return err
	}
	if err := c.FS.RenameDataset(ctx, tempDataset, targetDataset); err != nil {
		return err
	}
	if err := c.FS.MountDataset(ctx, targetDataset); err != nil {
		return err
	}
	_ = c.FS.DestroyDataset(ctx, oldDataset, true)

	mountpoint, err := c.FS.GetMountpoint(ctx, targetDataset)
	if err != nil {
		return err
	}

	archivePath, err := c.WAL.EnsureArchiveDir(branch.ZFSDataset)
	if err != nil {
		return err
	}

	id, err := c.Containers.CreateContainer(ctx, container.Spec{
		Name:           containerName,
		Image:          project.DockerImage,
		Username:       project.Credentials.Username,
		Password:       project.Credentials.Password,
		Database:       project.Credentials.Database,
		DataMountpoint: mountpoint,
		WALArchiveDir:  archivePath,
		CertDir:        project.SSLCertDir,
		HostPort:       branch.Port,
	})
	if err != nil {
		return err
	}
	if err := c.Containers.StartContainer(ctx, id); err != nil {
		return err
	}
	if err := c.Containers.WaitForHealthy(ctx, id, project.Credentials.Username, 120*time.Second); err != nil {
		return err
	}

	if err := c.Store.Snapshots().DeleteForBranch(name); err != nil {
		return err
	}

	used, err := c.FS.GetUsedSpace(ctx, targetDataset)
	if err != nil {
		return err
	}
	branch.SnapshotName = snap.FullSnapshotName
	branch.SizeBytes = used
	branch.Status = types.BranchStatusRunning
	return c.Store.Branches().Update(branch)
}

// DeleteBranch removes name and, when force is set, every branch cloned
// from it.
func (c *Controller) DeleteBranch(ctx context.Context, name string, force bool) (err error) {
	logger := log.WithBranch(name)
	logger.Info().Msg("deleting branch")
	defer func() {
		if err != nil {
			metrics.BranchOperationsTotal.WithLabelValues("delete", "error").Inc()
			logger.Error().Err(err).Msg("delete branch failed")
			return
		}
		metrics.BranchOperationsTotal.WithLabelValues("delete", "success").Inc()
		c.refreshResourceGauges()
		logger.Info().Msg("branch deleted")
	}()

	branch, err := c.Store.Branches().GetByNamespace(name)
	if err != nil {
		return err
	}
	if branch.IsPrimary {
		return ctlerr.User("delete the project instead", "cannot delete primary branch %q", name)
	}
	project, err := c.Store.Projects().GetByName(branch.ProjectName)
	if err != nil {
		return err
	}

	postOrder := collectDescendantsPostOrder(project, branch)
	descendantsOnly := postOrder[:len(postOrder)-1]
	if len(descendantsOnly) > 0 && !force {
		return ctlerr.User("pass --force to delete it along with its descendants", "branch %q has %d descendant branches", name, len(descendantsOnly))
	}

	var wg sync.WaitGroup
	for _, b := range postOrder {
		wg.Add(1)
		go func(b *types.Branch) {
			defer wg.Done()
			containerName := types.ContainerName(project.Name, branchShortName(b.Name))
			if id, err := c.Containers.GetContainerByName(ctx, containerName); err == nil && id != "" {
				_ = c.Containers.StopContainer(ctx, id, 30*time.Second)
				_ = c.Containers.RemoveContainer(ctx, id, true)
			}
			_ = c.WAL.DeleteArchiveDir(b.ZFSDataset)
			_ = c.Store.Snapshots().DeleteForBranch(b.Name)
		}(b)
	}
	wg.Wait()

	for _, b := range postOrder {
		if err := c.FS.DestroyDataset(ctx, c.fullDataset(b.ZFSDataset), true); err != nil {
			if exists, existsErr := c.FS.DatasetExists(ctx, c.fullDataset(b.ZFSDataset)); existsErr == nil && !exists {
				continue
			}
			return err
		}
	}

	for _, b := range postOrder {
		if err := c.Store.Branches().Delete(b.Name); err != nil {
			return err
		}
	}
	return nil
}

func findBranchByID(project *types.Project, id string) *types.Branch {
	for _, b := range project.Branches {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func childBranches(project *types.Project, parentID string) []*types.Branch {
	var out []*types.Branch
	for _, b := range project.Branches {
		if b.ParentBranchID == parentID {
			out = append(out, b)
		}
	}
	return out
}

// collectDescendantsPostOrder returns root's subtree in post-order
// (children before parents), root itself last.
func collectDescendantsPostOrder(project *types.Project, root *types.Branch) []*types.Branch {
	var out []*types.Branch
	for _, child := range childBranches(project, root.ID) {
		out = append(out, collectDescendantsPostOrder(project, child)...)
	}
	out = append(out, root)
	return out
}

