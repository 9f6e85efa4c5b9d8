package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/pgbranch/pkg/snapshotsvc"
	"github.com/cuemby/pgbranch/pkg/types"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage application-consistent snapshots",
}

func init() {
	snapshotCreateCmd.Flags().String("label", "", "optional label suffix for the snapshot name")

	snapshotCleanupCmd.Flags().Int("days", 7, "delete snapshots older than this many days")
	snapshotCleanupCmd.Flags().Bool("dry-run", false, "list what would be deleted without deleting")
	snapshotCleanupCmd.Flags().Bool("all", false, "clean up every branch instead of one")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotDeleteCmd, snapshotCleanupCmd)
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <proj>/<branch>",
	Short: "Create an application-consistent snapshot of a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		b, err := c.Store.Branches().GetByNamespace(args[0])
		if err != nil {
			return err
		}
		project, err := c.Store.Projects().GetByName(b.ProjectName)
		if err != nil {
			return err
		}

		fullDS := zfs.FullDatasetPath(c.Pool, c.Base, b.ZFSDataset)
		svc := snapshotsvc.New(c.Containers, c.FS)
		res, err := svc.CreateSnapshot(cmd.Context(), snapshotsvc.Request{
			FullDatasetPath: fullDS,
			Status:          b.Status,
			ContainerName:   types.ContainerName(b.ProjectName, branchShort(args[0])),
			Username:        project.Credentials.Username,
			Label:           label,
		})
		if err != nil {
			return err
		}

		used, err := c.FS.GetUsedSpace(cmd.Context(), fullDS)
		if err != nil {
			return err
		}
		snap := &types.Snapshot{
			ID:          uuid.NewString(),
			BranchID:    b.ID,
			BranchName:  b.Name,
			ProjectName: b.ProjectName,
			ZFSSnapshot: res.FullSnapshotName,
			CreatedAt:   time.Now().UTC(),
			Label:       label,
			SizeBytes:   used,
		}
		if err := c.Store.Snapshots().Add(snap); err != nil {
			return err
		}
		fmt.Printf("snapshot %s created\n", res.FullSnapshotName)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [<proj>/<branch>]",
	Short: "List snapshots, optionally filtered to one branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		var snaps []*types.Snapshot
		if len(args) == 1 {
			snaps, err = c.Store.Snapshots().GetForBranch(args[0])
		} else {
			snaps, err = c.Store.Snapshots().GetAll()
		}
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("%s\t%s\t%s\n", s.ID, s.ZFSSnapshot, s.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot record and its underlying filesystem snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		snap, err := c.Store.Snapshots().GetByID(args[0])
		if err != nil {
			return err
		}
		if err := c.FS.DestroySnapshot(cmd.Context(), snap.ZFSSnapshot); err != nil {
			return err
		}
		return c.Store.Snapshots().Delete(args[0])
	},
}

var snapshotCleanupCmd = &cobra.Command{
	Use:   "cleanup [<proj>/<branch>]",
	Short: "Delete snapshots older than --days",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("specify a branch or pass --all")
		}

		c, err := newController(cmd)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

		var branchNames []string
		if all {
			branches, err := c.Store.Branches().ListAll()
			if err != nil {
				return err
			}
			for _, b := range branches {
				branchNames = append(branchNames, b.Name)
			}
		} else {
			branchNames = []string{args[0]}
		}

		total := 0
		for _, name := range branchNames {
			if dryRun {
				snaps, err := c.Store.Snapshots().GetForBranch(name)
				if err != nil {
					return err
				}
				for _, s := range snaps {
					if s.CreatedAt.Before(cutoff) {
						fmt.Printf("would delete %s\n", s.ZFSSnapshot)
						total++
					}
				}
				continue
			}
			n, err := c.Store.Snapshots().DeleteOld(name, cutoff)
			if err != nil {
				return err
			}
			total += n
		}
		fmt.Printf("%d snapshot(s) %s\n", total, map[bool]string{true: "would be removed", false: "removed"}[dryRun])
		return nil
	},
}
