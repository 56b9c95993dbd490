package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/superclaude-org/scinstall/pkg/components"
	"github.com/superclaude-org/scinstall/pkg/config"
	"github.com/superclaude-org/scinstall/pkg/version"
)

// defaultComponents are installed when none are named.
var defaultComponents = []string{"core"}

// batchOptions are the flags shared by install and update.
type batchOptions struct {
	components []string
	apiKeys    map[string]string
	envFile    string
}

func (o *batchOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.components, "components", nil, "components to process ('all' selects every component)")
	cmd.Flags().StringSlice("mcp-servers", nil, "MCP servers to configure")
	cmd.Flags().String("claude-config", "", "shared Claude config file (default ~/.claude.json)")
	cmd.Flags().StringToStringVar(&o.apiKeys, "api-key", nil, "API key for an MCP server, as NAME=VALUE")
	cmd.Flags().StringVar(&o.envFile, "env-file", "", "also append collected API keys to this dotenv file")
}

func newInstallCommand() *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "install [components...]",
		Short: "Install framework components",
		Long: `Install SuperClaude components and their dependencies.

This command:
  - Resolves the dependency order of the selected components
  - Checks disk space, write permission and required external tools
  - Backs up an existing installation before changing it
  - Installs each component, continuing past individual failures
  - Validates every installed component
  - Persists API keys collected for MCP servers`,
		Example: `  # Install the core framework
  scinstall install

  # Install everything into a custom directory
  scinstall install all --install-dir /opt/claude

  # Configure MCP servers with an API key
  scinstall install mcp --mcp-servers context7,magic --api-key TWENTYFIRST_API_KEY=...

  # Show what would happen
  scinstall install --components core,modes --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			names := a.expand(append(opts.components, args...))
			if len(names) == 0 {
				names = defaultComponents
			}
			a.console.Header("SuperClaude Installer", fmt.Sprintf("v%s -> %s", version.Framework, a.cfg.InstallDir))
			return a.runBatch(cmd.Context(), "installation", names, false, opts)
		},
	}
	opts.addFlags(cmd)

	return cmd
}

// expand replaces "all" with every known component.
func (a *app) expand(names []string) []string {
	for _, n := range names {
		if n == "all" {
			return a.registry.List()
		}
	}
	return names
}

// runBatch checks prerequisites, runs the installer and persists API keys.
func (a *app) runBatch(ctx context.Context, verb string, names []string, update bool, opts batchOptions) error {
	for _, problem := range a.registry.ValidateDependencyGraph() {
		a.logger.Warn(problem)
	}

	ordered, err := a.registry.ResolveDependencies(names)
	if err != nil {
		return report(a.console, verb, nil, err)
	}
	if err := a.checkTools(ctx, ordered); err != nil {
		return err
	}

	keys := a.collectAPIKeys(opts.apiKeys)
	sum, err := a.installer.Install(ctx, names, components.InstallConfig{
		DryRun:             dryRun,
		Force:              force,
		UpdateMode:         update,
		SelectedMCPServers: a.cfg.MCP.Servers,
		CollectedAPIKeys:   keys,
	})
	if err == nil && !dryRun && len(keys) > 0 && len(sum.Installed)+len(sum.Updated) > 0 {
		a.persistAPIKeys(keys, opts.envFile)
	}

	result := report(a.console, verb, sum, err)
	if result == nil {
		a.checkForUpdate(ctx)
	}
	return result
}

// checkTools verifies the external tools the components need. Missing
// required tools stop the run unless --force is given.
func (a *app) checkTools(ctx context.Context, ordered []string) error {
	results, errs := a.reqs.CheckTools(ctx, ordered, config.ExecProbe)
	for _, r := range results {
		switch {
		case r.Err == nil:
			a.logger.Debug(fmt.Sprintf("found %s %s", r.Name, r.Version))
		case r.Optional:
			a.logger.Warn(fmt.Sprintf("optional tool %s: %v", r.Name, r.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if force {
		for _, e := range errs {
			a.logger.Warn(fmt.Sprintf("ignoring unmet requirement: %s", e))
		}
		return nil
	}
	a.console.Error("system requirements not met:")
	for _, e := range errs {
		a.console.Error("  %s", e)
	}
	a.console.Println("Install the missing tools or rerun with --force.")
	return reported(fmt.Errorf("system requirements not met: %s", strings.Join(errs, "; ")))
}

// collectAPIKeys gathers the secrets of the selected servers from
// --api-key and the environment.
func (a *app) collectAPIKeys(given map[string]string) map[string]string {
	keys := make(map[string]string)
	for _, key := range a.cfg.MCP.Servers {
		server, ok := components.LookupServer(key)
		if !ok || !server.RequiresAPIKey() {
			continue
		}
		name := server.APIKeyEnv
		if v := given[name]; v != "" {
			keys[name] = v
			continue
		}
		if v, ok := os.LookupEnv(name); ok && v != "" {
			keys[name] = v
			continue
		}
		a.console.Warning("%s needs %s; set it before using the server", server.Name, name)
	}
	return keys
}

func (a *app) persistAPIKeys(keys map[string]string, envFile string) {
	if err := a.envvars.Setup(keys); err != nil {
		a.console.Warning("some API keys could not be saved: %v", err)
	} else {
		a.console.Success("saved %d API keys for new shell sessions", len(keys))
	}
	if envFile != "" {
		if err := a.envvars.WriteEnvFile(keys, envFile); err != nil {
			a.console.Warning("could not write %s: %v", envFile, err)
		}
	}
}
