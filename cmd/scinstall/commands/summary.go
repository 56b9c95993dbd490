package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/superclaude-org/scinstall/pkg/engine"
	"github.com/superclaude-org/scinstall/pkg/stores"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// report prints the outcome of a batch and turns it into the command's
// error. err is the batch error returned alongside sum, if any.
func report(c *telemetry.Console, verb string, sum *engine.Summary, err error) error {
	if err != nil {
		c.Error("%s failed: %v", verb, err)
		if engine.HasCode(err, engine.ErrCodeDiskSpace) || engine.HasCode(err, engine.ErrCodePermissionDenied) {
			c.Println("Free up space or choose another directory with --install-dir.")
		}
		return reported(err)
	}

	if sum.DryRun {
		c.Warning("dry run: no changes were made")
	}
	list(c, "installed", sum.Installed)
	list(c, "updated", sum.Updated)
	list(c, "removed", sum.Removed)
	list(c, "skipped", sum.Skipped)
	if sum.BackupPath != "" {
		c.Info("backup created: %s", sum.BackupPath)
	}
	for _, unit := range sortedKeys(sum.Invalid) {
		for _, problem := range sum.Invalid[unit] {
			c.Warning("%s: %s", unit, problem)
		}
	}

	if sum.Cancelled {
		c.Warning("%s interrupted; the installation may be incomplete", verb)
		return reported(ErrInterrupted)
	}
	if len(sum.Failed) > 0 {
		c.Error("failed components: %s", strings.Join(sum.Failed, ", "))
		for _, unit := range sum.Failed {
			for _, reason := range sum.Errors[unit] {
				c.Error("  %s: %s", unit, reason)
			}
		}
		c.Error("see the log output for details")
		return reported(fmt.Errorf("%s failed for %d components", verb, len(sum.Failed)))
	}

	c.Success("%s completed in %s", verb, sum.Duration.Round(time.Millisecond))
	return nil
}

func list(c *telemetry.Console, label string, names []string) {
	if len(names) == 0 {
		return
	}
	c.Info("%s: %s", label, strings.Join(names, ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var progressVerbs = map[string]string{
	stores.OperationInstall:   "installing",
	stores.OperationUpdate:    "updating",
	stores.OperationUninstall: "removing",
}

// progress prints one line per unit as the installer reaches it.
func progress(c *telemetry.Console) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		if e.Type != telemetry.EventTypeUnitStarted {
			return
		}
		verb, ok := progressVerbs[e.Operation]
		if !ok {
			verb = e.Operation
		}
		c.Info("[%d/%d] %s %s", e.Index, e.Total, verb, e.Unit)
	}
}
