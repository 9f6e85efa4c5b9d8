package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/pgbranch/pkg/controller"
	"github.com/cuemby/pgbranch/pkg/types"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches within a project",
}

func init() {
	branchCreateCmd.Flags().String("parent", "", `parent branch "<project>/<branch>", defaults to "<project>/main"`)
	branchCreateCmd.Flags().String("pitr", "", "recovery target time (ISO-8601 or relative, e.g. \"3 hours ago\")")

	branchDeleteCmd.Flags().Bool("force", false, "delete even if dependent branches exist")
	branchResetCmd.Flags().Bool("force", false, "reset even if dependent branches exist")

	branchCmd.AddCommand(branchCreateCmd, branchListCmd, branchGetCmd, branchDeleteCmd, branchResetCmd,
		branchStartCmd, branchStopCmd, branchRestartCmd, branchPasswordCmd)
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <proj>/<branch>",
	Short: "Clone a branch from its parent's current (or past, with --pitr) state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent")
		pitrTarget, _ := cmd.Flags().GetString("pitr")

		c, err := newController(cmd)
		if err != nil {
			return err
		}
		branch, err := c.CreateBranch(cmd.Context(), args[0], controller.CreateBranchOptions{Parent: parent, PITR: pitrTarget})
		if err != nil {
			return err
		}
		fmt.Printf("branch %q created on port %d\n", branch.Name, branch.Port)
		return nil
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list [<project>]",
	Short: "List branches, optionally filtered to one project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		var branches []*types.Branch
		if len(args) == 1 {
			branches, err = c.Store.Branches().ListForProject(args[0])
		} else {
			branches, err = c.Store.Branches().ListAll()
		}
		if err != nil {
			return err
		}
		for _, b := range branches {
			fmt.Printf("%s\tport=%d\tstatus=%s\tprimary=%v\n", b.Name, b.Port, b.Status, b.IsPrimary)
		}
		return nil
	},
}

var branchGetCmd = &cobra.Command{
	Use:   "get <proj>/<branch>",
	Short: "Show one branch's detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		b, err := c.Store.Branches().GetByNamespace(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("name:       %s\nport:       %d\nstatus:     %s\nprimary:    %v\ndataset:    %s\ncreatedAt:  %s\nsizeBytes:  %d\n",
			b.Name, b.Port, b.Status, b.IsPrimary, b.ZFSDataset, b.CreatedAt.Format(time.RFC3339), b.SizeBytes)
		return nil
	},
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <proj>/<branch>",
	Short: "Delete a branch (and its descendants, with --force)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteBranch(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("branch %q deleted\n", args[0])
		return nil
	},
}

var branchResetCmd = &cobra.Command{
	Use:   "reset <proj>/<branch>",
	Short: "Replace a branch's data with a fresh clone of its parent's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		if err := c.ResetBranch(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("branch %q reset\n", args[0])
		return nil
	},
}

var branchStartCmd = &cobra.Command{
	Use:   "start <proj>/<branch>",
	Short: "Start a branch's stopped container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, b, id, err := resolveBranchContainer(cmd, args[0])
		if err != nil {
			return err
		}
		if err := c.Containers.StartContainer(cmd.Context(), id); err != nil {
			return err
		}
		project, err := c.Store.Projects().GetByName(b.ProjectName)
		if err != nil {
			return err
		}
		return c.Containers.WaitForHealthy(cmd.Context(), id, project.Credentials.Username, 120*time.Second)
	},
}

var branchStopCmd = &cobra.Command{
	Use:   "stop <proj>/<branch>",
	Short: "Stop a branch's running container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, id, err := resolveBranchContainer(cmd, args[0])
		if err != nil {
			return err
		}
		return c.Containers.StopContainer(cmd.Context(), id, 30*time.Second)
	},
}

var branchRestartCmd = &cobra.Command{
	Use:   "restart <proj>/<branch>",
	Short: "Restart a branch's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, id, err := resolveBranchContainer(cmd, args[0])
		if err != nil {
			return err
		}
		return c.Containers.RestartContainer(cmd.Context(), id)
	},
}

var branchPasswordCmd = &cobra.Command{
	Use:   "password <proj>/<branch>",
	Short: "Print the PostgreSQL password for a branch's project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		fmt.Println(project.Credentials.Password)
		return nil
	},
}

// resolveBranchContainer loads the controller, resolves the named branch,
// and looks up its running container id by the product naming convention.
func resolveBranchContainer(cmd *cobra.Command, name string) (*controller.Controller, *types.Branch, string, error) {
	c, err := newController(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	b, err := c.Store.Branches().GetByNamespace(name)
	if err != nil {
		return nil, nil, "", err
	}
	containerName := types.ContainerName(b.ProjectName, branchShort(name))
	id, err := c.Containers.GetContainerByName(cmd.Context(), containerName)
	if err != nil {
		return nil, nil, "", err
	}
	if id == "" {
		return nil, nil, "", fmt.Errorf("no container found for branch %q", name)
	}
	return c, b, id, nil
}

func branchShort(namespaced string) string {
	_, branch, ok := types.ParseBranchName(namespaced)
	if !ok {
		return namespaced
	}
	return branch
}
