package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newComponentsCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "components",
		Short: "List available components",
		Long: `List the components this installer ships with their versions, categories
and dependencies, the installation levels derived from the dependency
graph and any problems found in the graph.`,
		Example: `  # Show components and install status
  scinstall components

  # Render the dependency graph with Graphviz
  scinstall components --dot | dot -Tpng -o components.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if dot {
				fmt.Fprint(cmd.OutOrStdout(), a.registry.Graph().ToDOT())
				return nil
			}

			installed := a.state.InstalledComponents()
			styles := a.console.Styles()
			a.console.Header("SuperClaude Components", a.cfg.InstallDir)
			for _, name := range a.registry.List() {
				meta, _ := a.registry.Metadata(name)
				status := styles.Muted.Render("not installed")
				if v, ok := installed[name]; ok {
					status = styles.Success.Render("installed " + v)
				}
				a.console.Println("%-10s v%-8s %-14s %s", name, meta.Version, meta.Category, status)
				if meta.Description != "" {
					a.console.Println("           %s", styles.Muted.Render(meta.Description))
				}
				if deps := a.registry.Dependencies(name); len(deps) > 0 {
					a.console.Println("           depends on: %s", strings.Join(deps, ", "))
				}
			}

			info := a.registry.Info()
			if levels, err := a.registry.InstallationLevels(a.registry.List()); err == nil {
				a.console.Println("")
				for i, level := range levels {
					a.console.Println("level %d: %s", i, strings.Join(level, ", "))
				}
			}
			if len(info.ValidationErrors) > 0 {
				for _, problem := range info.ValidationErrors {
					a.console.Error("%s", problem)
				}
				return reported(fmt.Errorf("dependency graph has %d problems", len(info.ValidationErrors)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in Graphviz DOT format")

	return cmd
}

func newCheckUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-update",
		Short: "Check whether a newer release is published",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			res, ok := a.updateChecker().Check(cmd.Context(), true)
			switch {
			case !ok:
				a.console.Warning("could not determine the latest release")
			case res.Available:
				a.console.Info("SuperClaude %s is available (installed: %s)", res.Latest, res.Current)
			default:
				a.console.Success("SuperClaude %s is the latest release", res.Current)
			}
			return nil
		},
	}
	return cmd
}
