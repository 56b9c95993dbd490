package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	quiet      bool
	dryRun     bool
	force      bool
	assumeYes  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scinstall",
		Short: "SuperClaude framework installer",
		Long: `scinstall installs, updates and removes the SuperClaude framework
in a Claude configuration directory (~/.claude by default).

Features:
  - Component dependency resolution
  - Pre-flight disk space and permission checks
  - Automatic backup before changing an existing installation
  - Path validation for every file operation
  - Run history, metrics and tracing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path")
	flags.String("install-dir", "", "installation directory (default ~/.claude)")
	flags.String("source-dir", "", "directory holding the framework artifacts")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	flags.Bool("no-color", false, "disable colored output")
	flags.Bool("metrics", false, "write Prometheus metrics to a textfile")
	flags.Bool("no-history", false, "do not record this run in the history database")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only show errors")
	flags.BoolVar(&dryRun, "dry-run", false, "show what would be done without changing anything")
	flags.BoolVar(&force, "force", false, "skip checks and reinstall unchanged components")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newUninstallCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newComponentsCommand())
	rootCmd.AddCommand(newCheckUpdateCommand())

	return rootCmd
}
