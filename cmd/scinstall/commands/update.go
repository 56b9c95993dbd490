package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/superclaude-org/scinstall/pkg/version"
)

func newUpdateCommand() *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "update [components...]",
		Short: "Update installed components",
		Long: `Update installed SuperClaude components to the versions shipped with
this installer.

Components already at the shipped version are skipped unless --force is
given. The existing installation is backed up first.`,
		Example: `  # Update everything that is installed
  scinstall update

  # Update selected components
  scinstall update core mcp

  # Reinstall unchanged components too
  scinstall update --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			installed := a.state.InstalledComponents()
			if len(installed) == 0 {
				a.console.Error("no SuperClaude installation found in %s", a.cfg.InstallDir)
				a.console.Println("Run 'scinstall install' first.")
				return reported(fmt.Errorf("nothing to update"))
			}

			names := a.expand(append(opts.components, args...))
			if len(names) == 0 {
				for name := range installed {
					if _, ok := a.registry.Unit(name); !ok {
						a.logger.Warn(fmt.Sprintf("installed component %s is unknown to this installer", name))
						continue
					}
					names = append(names, name)
				}
				sort.Strings(names)
			} else {
				var missing []string
				for _, name := range names {
					if _, ok := installed[name]; !ok {
						missing = append(missing, name)
					}
				}
				if len(missing) > 0 {
					a.console.Error("components not installed: %s", strings.Join(missing, ", "))
					return reported(fmt.Errorf("components not installed: %s", strings.Join(missing, ", ")))
				}
			}

			a.console.Header("SuperClaude Update", fmt.Sprintf("v%s -> %s", version.Framework, a.cfg.InstallDir))
			if !a.showAvailableUpdates(names, installed) && !force {
				a.console.Success("all components are up to date")
				a.checkForUpdate(cmd.Context())
				return nil
			}
			return a.runBatch(cmd.Context(), "update", names, true, opts)
		},
	}
	opts.addFlags(cmd)

	return cmd
}

// showAvailableUpdates lists the components whose shipped version is newer
// than the installed one and reports whether there are any.
func (a *app) showAvailableUpdates(names []string, installed map[string]string) bool {
	found := false
	for _, name := range names {
		meta, ok := a.registry.Metadata(name)
		if !ok {
			continue
		}
		current := installed[name]
		if version.IsNewer(meta.Version, current) {
			a.console.Info("%s: %s -> %s", name, current, meta.Version)
			found = true
		}
	}
	return found
}
