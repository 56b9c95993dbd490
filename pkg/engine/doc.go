// Package engine drives installation batches over the framework's units.
//
// # Overview
//
// An install or update batch runs through five phases:
//
//  1. Resolve - Expand the requested units with their dependencies (Graph)
//  2. Preflight - Check the target, free disk space and write access (Preflight)
//  3. Backup - Archive an existing installation (BackupManager)
//  4. Install - Install or update each unit in dependency order (Installer)
//  5. Validate - Check every unit the batch touched
//
// Uninstall removes units dependents first and only touches units recorded
// as installed.
//
// # Registry
//
// Units come from a static registration table (components.Catalog). The
// Registry builds one instance of each, records its dependencies in a Graph
// and answers ordering questions:
//
//	reg := engine.NewRegistry(env)
//	order, err := reg.ResolveDependencies([]string{"modes"})
//	// order: [core modes]
//
// # Error Classification
//
// Errors carry a class that decides how far they propagate:
//
//   - Fatal: Aborts the batch before anything is mutated
//   - Unit: Fails a single unit; the rest of the batch continues
//   - Soft: Logged as a warning only
//
// Use the helpers to inspect them:
//
//	if engine.IsFatal(err) {
//	    // nothing was changed
//	}
//
// # Example Usage
//
//	inst := engine.NewInstaller(reg,
//	    engine.WithLogger(logger),
//	    engine.WithHistory(store),
//	)
//	sum, err := inst.Install(ctx, []string{"core", "mcp"}, components.InstallConfig{})
//	if err != nil {
//	    // resolution, preflight or backup failed
//	}
//	if !sum.Success() {
//	    // sum.Failed lists the units that failed
//	}
//
// # Thread Safety
//
// Registry is safe for concurrent use. An Installer runs one batch at a
// time and assumes no other process mutates the install directory.
package engine
