package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/stores"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// UninstallOptions configures an uninstall batch.
type UninstallOptions struct {
	// Complete removes every installed unit and then the framework's
	// leftover directories and metadata.
	Complete bool
	// KeepBackups preserves the backups directory on complete removal.
	KeepBackups bool
	// KeepLogs preserves the logs directory on complete removal.
	KeepLogs bool
}

// leftoverDirs are created by the core unit and removed on complete
// uninstall.
var leftoverDirs = []string{"commands", BackupDirName, "logs"}

// Uninstall removes names, dependents first. Only units recorded as
// installed are touched; other names are skipped without any removal.
// With no names, or with opts.Complete, every installed unit is removed.
func (i *Installer) Uninstall(ctx context.Context, names []string, opts UninstallOptions) (*Summary, error) {
	sum, ctx, span := i.begin(ctx, stores.OperationUninstall, i.dryRun)
	defer span.End()

	err := i.runUninstall(ctx, sum, names, opts)
	i.finish(ctx, span, sum, err)
	return sum, err
}

func (i *Installer) runUninstall(ctx context.Context, sum *Summary, names []string, opts UninstallOptions) error {
	installed := i.state.InstalledComponents()
	if opts.Complete || len(names) == 0 {
		names = names[:0:0]
		for name := range installed {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	requested := make(map[string]bool, len(names))
	var known []string
	for _, name := range names {
		if _, ok := installed[name]; !ok {
			i.logger.Info(fmt.Sprintf("%s is not installed, skipping", name))
			sum.Skipped = append(sum.Skipped, name)
			continue
		}
		if !i.registry.Graph().Has(name) {
			// Recorded by another release; drop the record only.
			i.logger.Warn(fmt.Sprintf("%s is installed but no longer known, removing its registration", name))
			if !sum.DryRun {
				if _, err := i.state.RemoveComponentRegistration(name); err != nil {
					i.logger.Warn(fmt.Sprintf("could not unregister %s: %v", name, err))
				}
			}
			sum.Removed = append(sum.Removed, name)
			continue
		}
		requested[name] = true
		known = append(known, name)
	}

	order, err := i.uninstallOrder(known)
	if err != nil {
		return err
	}
	i.warnDependents(order, requested, installed)

	for idx, name := range order {
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			i.logger.Warn(fmt.Sprintf("uninstall interrupted before %s", name))
			return nil
		}
		i.events.PublishUnitStarted(sum.RunID, sum.Operation, name, idx+1, len(order))
		i.uninstallUnit(ctx, sum, name)
	}

	if opts.Complete && len(sum.Failed) == 0 {
		i.removeLeftovers(opts, sum.DryRun)
	}
	return nil
}

// uninstallOrder returns names in reverse dependency order.
func (i *Installer) uninstallOrder(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	resolved, err := i.registry.ResolveDependencies(names)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	order := make([]string, 0, len(names))
	for idx := len(resolved) - 1; idx >= 0; idx-- {
		if want[resolved[idx]] {
			order = append(order, resolved[idx])
		}
	}
	return order, nil
}

// warnDependents logs installed units that stay behind while a unit they
// depend on is removed.
func (i *Installer) warnDependents(order []string, requested map[string]bool, installed map[string]string) {
	for _, name := range order {
		for _, dep := range i.registry.Dependents(name) {
			if _, ok := installed[dep]; ok && !requested[dep] {
				i.logger.Warn(fmt.Sprintf("%s depends on %s and stays installed", dep, name))
			}
		}
	}
}

func (i *Installer) uninstallUnit(ctx context.Context, sum *Summary, name string) {
	ctx, span := i.tracer.StartUnitSpan(ctx, name, stores.OperationUninstall)
	defer span.End()
	start := i.now()

	outcome := telemetry.OutcomeRemoved
	var reasons []string

	unit, ok := i.registry.Unit(name)
	switch {
	case !ok:
		outcome, reasons = telemetry.OutcomeFailed, []string{fmt.Sprintf("unknown component: %s", name)}
	case sum.DryRun:
		i.logger.Info(fmt.Sprintf("[dry-run] would uninstall %s", name))
	case !safeCall(i.logger, name, "uninstall", unit.Uninstall):
		outcome, reasons = telemetry.OutcomeFailed, []string{"uninstall failed"}
	}

	if outcome == telemetry.OutcomeRemoved {
		sum.Removed = append(sum.Removed, name)
		telemetry.RecordSuccess(span)
	} else {
		sum.fail(name, reasons...)
		telemetry.RecordError(span, NewUnitError(name, strings.Join(reasons, "; "), nil))
	}
	span.SetAttributes(telemetry.AttrOutcome.String(outcome))
	i.recordUnit(ctx, sum, name, stores.OperationUninstall, outcome, reasons, start)
}

// removeLeftovers deletes the framework directories and metadata left
// after every unit is gone, then the install dir itself when empty. User
// files are never removed.
func (i *Installer) removeLeftovers(opts UninstallOptions, dryRun bool) {
	keep := map[string]bool{
		BackupDirName: opts.KeepBackups,
		"logs":        opts.KeepLogs,
	}

	for _, dir := range leftoverDirs {
		if keep[dir] {
			i.logger.Info(fmt.Sprintf("keeping %s", dir))
			continue
		}
		path := filepath.Join(i.installDir, dir)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if dryRun {
			i.logger.Info(fmt.Sprintf("[dry-run] would remove %s", path))
			continue
		}
		if dir == "commands" && dirHasEntries(path) {
			i.logger.Info(fmt.Sprintf("keeping %s: it contains user files", path))
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			i.logger.Warn(fmt.Sprintf("could not remove %s: %v", path, err))
		}
	}

	if len(i.state.InstalledComponents()) == 0 {
		meta := filepath.Join(i.installDir, state.MetadataFile)
		if dryRun {
			i.logger.Info(fmt.Sprintf("[dry-run] would remove %s", meta))
		} else {
			for _, p := range []string{meta, meta + ".bak"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					i.logger.Warn(fmt.Sprintf("could not remove %s: %v", p, err))
				}
			}
		}
	}

	if dryRun {
		return
	}
	if !dirHasEntries(i.installDir) {
		if err := os.Remove(i.installDir); err == nil {
			i.logger.Info(fmt.Sprintf("removed empty %s", i.installDir))
		}
	} else {
		i.logger.Info(fmt.Sprintf("%s still contains user files and was kept", i.installDir))
	}
}
