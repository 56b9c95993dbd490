package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/superclaude-org/scinstall/pkg/artifacts"
	"github.com/superclaude-org/scinstall/pkg/components"
	"github.com/superclaude-org/scinstall/pkg/config"
	"github.com/superclaude-org/scinstall/pkg/engine"
	"github.com/superclaude-org/scinstall/pkg/envvars"
	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/stores"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
	"github.com/superclaude-org/scinstall/pkg/updater"
	"github.com/superclaude-org/scinstall/pkg/version"
)

// shutdownTimeout bounds span export and metrics writing at exit.
const shutdownTimeout = 5 * time.Second

// app is everything one command invocation works with.
type app struct {
	cfg     *config.Config
	reqs    *config.Requirements
	tel     *telemetry.Telemetry
	logger  telemetry.Logger
	console *telemetry.Console

	runID    string
	history  *stores.SQLiteStore
	auditLog *security.FileAuditSink

	guard     *security.Guard
	files     *artifacts.Store
	state     *state.Store
	registry  *engine.Registry
	backups   *engine.BackupManager
	installer *engine.Installer
	events    *telemetry.EventPublisher
	envvars   *envvars.Manager
}

// newApp loads the configuration and wires the installer for cmd. Runs
// are recorded in the history only when record is set.
func newApp(cmd *cobra.Command, record bool) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(config.LoadOptions{File: configPath, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	switch {
	case verbose:
		cfg.LogLevel = "debug"
	case quiet:
		cfg.LogLevel = "error"
	}

	reqs, err := config.DefaultRequirements()
	if err != nil {
		return nil, fmt.Errorf("failed to load requirements: %w", err)
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	a := &app{
		cfg:     cfg,
		reqs:    reqs,
		tel:     tel,
		logger:  tel.Logger,
		console: telemetry.NewConsole(cmd.OutOrStdout(), cfg.NoColor, quiet),
		runID:   uuid.New().String(),
	}

	// Dry runs leave no trace, not even in the history.
	if record && cfg.History.Enabled && !dryRun {
		a.history, err = openHistory(ctx, cfg.History.Path)
		if err != nil {
			a.logger.Warn(fmt.Sprintf("run history disabled: %v", err))
			a.history = nil
		}
	}
	if record && cfg.Security.AuditEnabled && !dryRun {
		a.auditLog = security.NewFileAuditSink(cfg.Security.AuditLog)
	}

	a.guard = security.NewGuard(
		security.WithLogger(tel.Logger.NewComponentLogger("security")),
		security.WithAuditSink(a.auditSink()),
	)
	a.files = artifacts.New(a.guard, tel.Logger.NewComponentLogger("artifacts"), dryRun)
	a.state = state.NewStore(cfg.InstallDir, tel.Logger.NewComponentLogger("state"))

	env := components.Env{
		InstallDir:       cfg.InstallDir,
		SourceDir:        cfg.SourceDir,
		Version:          version.Framework,
		ClaudeConfigPath: cfg.MCP.ClaudeConfig,
		Guard:            a.guard,
		Files:            a.files,
		State:            a.state,
		Logger:           tel.Logger.NewComponentLogger("components"),
	}
	a.registry = engine.NewRegistry(env, engine.WithRegistryLogger(tel.Logger.NewComponentLogger("registry")))

	compression, err := engine.ParseCompression(cfg.Backup.Compression)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	engineLogger := tel.Logger.NewComponentLogger("engine")
	a.backups = engine.NewBackupManager(cfg.InstallDir,
		engine.WithBackupState(a.state),
		engine.WithBackupGuard(a.guard),
		engine.WithBackupLogger(engineLogger),
		engine.WithBackupMetrics(tel.Metrics),
		engine.WithBackupDryRun(dryRun),
		engine.WithBackupCompression(compression),
	)

	a.events = telemetry.NewEventPublisher()
	a.events.Subscribe(progress(a.console), telemetry.FilterByType(telemetry.EventTypeUnitStarted))

	opts := []engine.InstallerOption{
		engine.WithLogger(engineLogger),
		engine.WithTracer(tel.Tracer),
		engine.WithMetrics(tel.Metrics),
		engine.WithBackups(a.backups),
		engine.WithDryRun(dryRun),
		engine.WithMinFreeMB(reqs.DiskSpaceMB),
		engine.WithRunIDs(func() string { return a.runID }),
		engine.WithEvents(a.events),
	}
	if a.history != nil {
		opts = append(opts, engine.WithHistory(a.history))
	}
	a.installer = engine.NewInstaller(a.registry, opts...)

	a.envvars = envvars.New(cfg.InstallDir, envvars.WithLogger(tel.Logger.NewComponentLogger("envvars")))
	return a, nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version.Framework
	tc.Logging.Level = cfg.LogLevel
	tc.Logging.Format = cfg.LogFormat
	tc.Logging.NoColor = cfg.NoColor
	tc.Tracing.Enabled = cfg.Tracing.Exporter != "none"
	tc.Tracing.Exporter = cfg.Tracing.Exporter
	tc.Tracing.Endpoint = cfg.Tracing.Endpoint
	tc.Tracing.SamplingRate = cfg.Tracing.SamplingRate
	tc.Tracing.Insecure = cfg.Tracing.Insecure
	tc.Metrics.Enabled = cfg.Metrics.Enabled
	tc.Metrics.TextfilePath = cfg.Metrics.Textfile
	return tc
}

func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// auditSink counts every path decision, appends it to the security log and
// stores it in the history when one is open.
func (a *app) auditSink() security.AuditSink {
	var sinks []security.AuditSink
	if a.auditLog != nil {
		sinks = append(sinks, a.auditLog)
	}
	if a.history != nil {
		sinks = append(sinks, stores.NewAuditSink(a.history, a.runID))
	}
	metrics := a.tel.Metrics
	return security.AuditSinkFunc(func(d security.Decision) error {
		metrics.RecordPathDecision(string(d.Action))
		var errs []error
		for _, sink := range sinks {
			if err := sink.Record(d); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// close prunes the history, exports metrics and flushes spans.
func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if a.history != nil {
		if a.cfg.History.Keep > 0 {
			if n, err := a.history.PruneRuns(ctx, a.cfg.History.Keep); err != nil {
				a.logger.Debug(fmt.Sprintf("failed to prune run history: %v", err))
			} else if n > 0 {
				a.logger.Debug(fmt.Sprintf("pruned %d old runs", n))
			}
		}
		if err := a.history.Close(); err != nil {
			a.logger.Debug(fmt.Sprintf("failed to close run history: %v", err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(err.Error())
	}
}

// checkForUpdate logs a notice when a newer release is published. It
// never fails the command.
func (a *app) checkForUpdate(ctx context.Context) {
	if !a.cfg.UpdateCheck.Enabled || dryRun {
		return
	}
	res, ok := a.updateChecker().Check(ctx, false)
	if ok && res.Available {
		a.console.Info("SuperClaude %s is available (installed: %s)", res.Latest, res.Current)
	}
}

func (a *app) updateChecker() *updater.Checker {
	return updater.New(updater.Config{
		URL:        a.cfg.UpdateCheck.URL,
		Current:    version.Framework,
		InstallDir: a.cfg.InstallDir,
		Timeout:    a.cfg.UpdateCheck.Timeout,
		Interval:   a.cfg.UpdateCheck.Interval,
	}, updater.WithLogger(a.logger))
}

// confirm asks a yes/no question unless --yes was given. Without a
// terminal answer the default is no.
func confirm(cmd *cobra.Command, question string) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	switch answer {
	case "y", "Y", "yes", "YES", "Yes":
		return true
	}
	return false
}
