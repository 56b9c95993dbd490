package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/superclaude-org/scinstall/pkg/engine"
)

func newUninstallCommand() *cobra.Command {
	var (
		componentNames  []string
		complete        bool
		keepBackups     bool
		keepLogs        bool
		cleanupEnv      bool
		noRestoreScript bool
	)

	cmd := &cobra.Command{
		Use:   "uninstall [components...]",
		Short: "Remove installed components",
		Long: `Remove SuperClaude components, dependents first.

Only components recorded as installed are touched. With --complete every
component is removed together with the framework's leftover directories,
metadata and the API key environment variables the installer set. A
script to restore those variables is written to your home directory
unless --no-restore-script is given. Files you created yourself are never
removed.`,
		Example: `  # Remove the MCP integration only
  scinstall uninstall mcp

  # Remove everything but keep backups
  scinstall uninstall --complete --keep-backups --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			installed := a.state.InstalledComponents()
			if len(installed) == 0 && !complete {
				a.console.Info("no components installed in %s", a.cfg.InstallDir)
				return nil
			}

			names := append(componentNames, args...)
			target := strings.Join(names, ", ")
			if complete || len(names) == 0 {
				target = "all SuperClaude components"
			}
			a.console.Header("SuperClaude Uninstall", a.cfg.InstallDir)
			if !dryRun && !confirm(cmd, fmt.Sprintf("Remove %s from %s?", target, a.cfg.InstallDir)) {
				a.console.Info("uninstall cancelled")
				return nil
			}

			// Before the batch: the tracking file lives in the install dir.
			if (complete || cleanupEnv) && !dryRun {
				a.removeAPIKeys(!noRestoreScript)
			}

			sum, err := a.installer.Uninstall(cmd.Context(), names, engine.UninstallOptions{
				Complete:    complete,
				KeepBackups: keepBackups,
				KeepLogs:    keepLogs,
			})
			return report(a.console, "uninstall", sum, err)
		},
	}

	cmd.Flags().StringSliceVar(&componentNames, "components", nil, "components to remove")
	cmd.Flags().BoolVar(&complete, "complete", false, "remove every component and the framework's leftovers")
	cmd.Flags().BoolVar(&keepBackups, "keep-backups", false, "keep the backups directory on complete removal")
	cmd.Flags().BoolVar(&keepLogs, "keep-logs", false, "keep the logs directory on complete removal")
	cmd.Flags().BoolVar(&cleanupEnv, "cleanup-env", false, "remove API key environment variables set by the installer")
	cmd.Flags().BoolVar(&noRestoreScript, "no-restore-script", false, "do not write a script restoring removed variables")

	return cmd
}

func (a *app) removeAPIKeys(restoreScript bool) {
	vars := a.envvars.Managed()
	if len(vars) == 0 {
		return
	}
	script, err := a.envvars.Cleanup(vars, restoreScript)
	if err != nil {
		a.console.Warning("some environment variables could not be removed: %v", err)
		return
	}
	a.console.Success("removed %d environment variables", len(vars))
	if script != "" {
		a.console.Info("restore them with: %s", script)
	}
}
