package main

import (
	"fmt"
	"os"
	"path/filepath"

	dockerclient "github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/cuemby/pgbranch/pkg/config"
	"github.com/cuemby/pgbranch/pkg/container"
	"github.com/cuemby/pgbranch/pkg/controller"
	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/storage"
	"github.com/cuemby/pgbranch/pkg/walarchive"
	"github.com/cuemby/pgbranch/pkg/zfs"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatCLIError(err))
		os.Exit(1)
	}
}

// formatCLIError prints a user error together with its remediation hint,
// and a system error as a plain failure — the two kinds this controller
// raises (see pkg/ctlerr).
func formatCLIError(err error) string {
	if ctlerr.IsUser(err) {
		return fmt.Sprintf("error: %s", err.Error())
	}
	return fmt.Sprintf("error: %v", err)
}

var rootCmd = &cobra.Command{
	Use:     "pgbranch",
	Short:   "Git-like branching for PostgreSQL, backed by ZFS snapshots",
	Version: Version,
	Long: `pgbranch clones running PostgreSQL databases in seconds by composing
ZFS copy-on-write snapshots with a Docker-compatible container runtime.
Branches share unchanged blocks with their parent and diverge independently,
the way a git branch shares history until it's written to.`,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pgbranch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("config-dir", "", "root directory for config.yaml, state, WAL archives, and SSL certs (default ~/.pgbranch)")
	rootCmd.PersistentFlags().String("pool", "", "ZFS pool override; defaults to config.yaml's zfsPool")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(walCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(stateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// resolveConfig loads config.yaml (falling back to built-in defaults) and
// applies any --config-dir/--pool overrides from the command line.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	path := ""
	if configDir != "" {
		path = filepath.Join(configDir, "config.yaml")
	} else {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return nil, ctlerr.System(err, "failed to resolve home directory")
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, ctlerr.System(err, "failed to load config at %s", path)
	}

	if pool, _ := cmd.Flags().GetString("pool"); pool != "" {
		cfg.ZFSPool = pool
	}
	return cfg, nil
}

// newController wires a Controller from the resolved config: loads (without
// requiring) the state store, builds the real ZFS CLI driver, and dials the
// local Docker-compatible daemon.
func newController(cmd *cobra.Command) (*controller.Controller, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}

	store := storage.New(cfg.StateFilePath())
	if err := store.Load(); err != nil {
		return nil, err
	}

	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation(), dockerclient.WithHost(cfg.DockerSocket))
	if err != nil {
		return nil, ctlerr.System(err, "failed to connect to the container runtime")
	}

	fs := zfs.NewCLIDriver()
	containers := container.NewDockerDriver(cli)
	wal := walarchive.NewManager(cfg.WALRoot())

	return controller.New(store, fs, containers, wal, cfg.CertRoot(), cfg.ZFSPool, cfg.ZFSBase), nil
}
