// Package config loads the installer configuration and the system
// requirements.
//
// # Overview
//
// Configuration is read with viper from, in increasing precedence:
//
//   - Built-in defaults
//   - $XDG_CONFIG_HOME/scinstall/config.yaml (or the file given by --config)
//   - SCINSTALL_* environment variables (SCINSTALL_INSTALL_DIR,
//     SCINSTALL_METRICS_ENABLED, ...)
//   - Command line flags
//
// The result is validated with go-playground/validator before use.
//
// # Requirements
//
// Requirements are embedded as YAML: the free disk space needed and the
// external tools some components rely on (node for MCP servers, for
// example). CheckTools probes the tools needed by a component set:
//
//	req, _ := config.DefaultRequirements()
//	results, errs := req.CheckTools(ctx, []string{"core", "mcp"}, nil)
//	if len(errs) > 0 {
//	    // a required tool is missing or too old
//	}
package config
