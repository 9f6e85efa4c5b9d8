package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var walCmd = &cobra.Command{
	Use:   "wal",
	Short: "Inspect and prune branch WAL archives",
}

func init() {
	walCleanupCmd.Flags().Int("days", 7, "delete WAL segments older than this many days")
	walCleanupCmd.Flags().Bool("dry-run", false, "report what would be deleted without deleting")

	walCmd.AddCommand(walInfoCmd, walCleanupCmd)
}

var walInfoCmd = &cobra.Command{
	Use:   "info [<proj>/<branch>]",
	Short: "Show WAL archive file count, size, and any detected gaps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}

		var datasets []string
		if len(args) == 1 {
			b, err := c.Store.Branches().GetByNamespace(args[0])
			if err != nil {
				return err
			}
			datasets = []string{b.ZFSDataset}
		} else {
			branches, err := c.Store.Branches().ListAll()
			if err != nil {
				return err
			}
			for _, b := range branches {
				datasets = append(datasets, b.ZFSDataset)
			}
		}

		for _, ds := range datasets {
			info, err := c.WAL.GetArchiveInfo(ds)
			if err != nil {
				return err
			}
			fmt.Printf("%s\tfiles=%d\tbytes=%d\toldest=%s\tnewest=%s\n", ds, info.FileCount, info.TotalBytes, info.OldestName, info.NewestName)
			gaps, err := c.WAL.VerifyArchiveIntegrity(ds)
			if err != nil {
				return err
			}
			for _, g := range gaps {
				fmt.Printf("  gap: between %s and %s\n", g.After, g.Before)
			}
		}
		return nil
	},
}

var walCleanupCmd = &cobra.Command{
	Use:   "cleanup <proj>/<branch>",
	Short: "Delete WAL segments older than --days",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		c, err := newController(cmd)
		if err != nil {
			return err
		}
		b, err := c.Store.Branches().GetByNamespace(args[0])
		if err != nil {
			return err
		}

		if dryRun {
			info, err := c.WAL.GetArchiveInfo(b.ZFSDataset)
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			if info.OldestModTime.Before(cutoff) {
				fmt.Printf("would remove segments older than %s\n", cutoff.Format(time.RFC3339))
			} else {
				fmt.Println("nothing older than the cutoff")
			}
			return nil
		}

		n, err := c.WAL.CleanupOldWALs(b.ZFSDataset, days)
		if err != nil {
			return err
		}
		fmt.Printf("%d WAL segment(s) removed\n", n)
		return nil
	},
}
