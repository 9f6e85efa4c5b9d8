package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/pgbranch/pkg/controller"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage pgbranch projects",
}

func init() {
	projectCreateCmd.Flags().String("pool", "", "ZFS pool override for this project")
	projectCreateCmd.Flags().String("pg-version", "", "PostgreSQL version, expands to postgres:<v>-alpine")
	projectCreateCmd.Flags().String("image", "", "explicit container image (mutually exclusive with --pg-version)")

	projectDeleteCmd.Flags().Bool("force", false, "delete even if non-primary branches exist")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectGetCmd, projectDeleteCmd)
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project and its primary branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pgVersion, _ := cmd.Flags().GetString("pg-version")
		image, _ := cmd.Flags().GetString("image")
		if pgVersion != "" && image != "" {
			return fmt.Errorf("specify either --pg-version or --image, not both")
		}
		if pgVersion != "" {
			image = "postgres:" + pgVersion + "-alpine"
		}

		c, err := newController(cmd)
		if err != nil {
			return err
		}
		project, err := c.CreateProject(cmd.Context(), args[0], controller.CreateProjectOptions{Image: image})
		if err != nil {
			return err
		}
		fmt.Printf("project %q created: primary branch %s on port %d\n", project.Name, project.Branches[0].Name, project.Branches[0].Port)
		fmt.Printf("  user=%s password=%s database=%s\n", project.Credentials.Username, project.Credentials.Password, project.Credentials.Database)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		projects, err := c.Store.Projects().List()
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("no projects")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s\t%s\t%d branch(es)\n", p.Name, p.DockerImage, len(p.Branches))
		}
		return nil
	},
}

var projectGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one project's detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		project, err := c.Store.Projects().GetByName(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("name:  %s\nimage: %s\nuser:  %s\ndb:    %s\n", project.Name, project.DockerImage, project.Credentials.Username, project.Credentials.Database)
		for _, b := range project.Branches {
			fmt.Printf("  - %s\tport=%d\tstatus=%s\tprimary=%v\n", b.Name, b.Port, b.Status, b.IsPrimary)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a project and every branch it contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		c, err := newController(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteProject(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("project %q deleted\n", args[0])
		return nil
	},
}
