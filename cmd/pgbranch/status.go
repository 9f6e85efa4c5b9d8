package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize projects, branches, and pool health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}

		pool, err := c.FS.PoolStatus(cmd.Context(), c.Pool)
		if err != nil {
			return err
		}
		fmt.Printf("pool %s: %s (%d/%d bytes used)\n", c.Pool, pool.Health, pool.AllocBytes, pool.SizeBytes)

		projects, err := c.Store.Projects().List()
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("project %s (%s): %d branch(es)\n", p.Name, p.DockerImage, len(p.Branches))
			for _, b := range p.Branches {
				fmt.Printf("  %s\tport=%d\tstatus=%s\n", b.Name, b.Port, b.Status)
			}
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check pool health and report orphaned datasets/containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}

		ok, err := c.FS.PoolExists(cmd.Context(), c.Pool)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("pool %q does not exist\n", c.Pool)
			return nil
		}
		pool, err := c.FS.PoolStatus(cmd.Context(), c.Pool)
		if err != nil {
			return err
		}
		fmt.Printf("pool %s: %s\n", c.Pool, pool.Health)

		result, err := c.Cleanup(cmd.Context(), true)
		if err != nil {
			return err
		}
		if len(result.OrphanedDatasets) == 0 && len(result.OrphanedContainers) == 0 {
			fmt.Println("no orphaned resources")
			return nil
		}
		for _, ds := range result.OrphanedDatasets {
			fmt.Printf("orphan dataset: %s\n", ds)
		}
		for _, name := range result.OrphanedContainers {
			fmt.Printf("orphan container: %s\n", name)
		}
		fmt.Printf("%d bytes reclaimable\n", result.WastedBytes)
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize the local state store and verify the ZFS pool exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		ok, err := c.FS.PoolExists(cmd.Context(), c.Pool)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ZFS pool %q does not exist; create it before running setup", c.Pool)
		}
		if err := c.Store.EnsureInitialized(c.Pool, c.Base); err != nil {
			return err
		}
		fmt.Printf("initialized state at %s\n", c.Store.Path())
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Detect and remove datasets/containers not reflected in state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

		c, err := newController(cmd)
		if err != nil {
			return err
		}

		preview, err := c.Cleanup(cmd.Context(), true)
		if err != nil {
			return err
		}
		if len(preview.OrphanedDatasets) == 0 && len(preview.OrphanedContainers) == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}
		for _, ds := range preview.OrphanedDatasets {
			fmt.Printf("orphan dataset: %s\n", ds)
		}
		for _, name := range preview.OrphanedContainers {
			fmt.Printf("orphan container: %s\n", name)
		}
		fmt.Printf("%d bytes reclaimable\n", preview.WastedBytes)

		if dryRun {
			return nil
		}
		if !force && !confirm("proceed with cleanup?") {
			fmt.Println("aborted")
			return nil
		}

		result, err := c.Cleanup(cmd.Context(), false)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d dataset(s), %d container(s), %d bytes reclaimed\n",
			len(result.OrphanedDatasets), len(result.OrphanedContainers), result.WastedBytes)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "list orphans without removing them")
	cleanupCmd.Flags().Bool("force", false, "skip the confirmation prompt")
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and repair the persistent state document",
}

func init() {
	stateCmd.AddCommand(stateRestoreCmd)
}

var stateRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore state.json from its single backup generation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		if err := c.Store.RestoreFromBackup(); err != nil {
			return err
		}
		fmt.Println("state restored from backup")
		return nil
	},
}
