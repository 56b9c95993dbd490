package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/superclaude-org/scinstall/pkg/components"
	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/stores"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
	"github.com/superclaude-org/scinstall/pkg/version"
)

// History records runs and their per-unit results. stores.Store
// satisfies it.
type History interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	FinishRun(ctx context.Context, id string, status stores.RunStatus, summary string, errMsg *string) error
	CreateUnitResult(ctx context.Context, result *stores.UnitResult) error
}

// Summary is the outcome of one batch.
type Summary struct {
	RunID     string   `json:"run_id"`
	Operation string   `json:"operation"`
	Installed []string `json:"installed"`
	Updated   []string `json:"updated"`
	Failed    []string `json:"failed"`
	Skipped   []string `json:"skipped"`
	Removed   []string `json:"removed,omitempty"`

	// Errors holds the failure detail of each failed unit.
	Errors map[string][]string `json:"errors,omitempty"`

	// Invalid holds post-install validation problems per unit.
	Invalid map[string][]string `json:"invalid,omitempty"`

	BackupPath string        `json:"backup_path,omitempty"`
	InstallDir string        `json:"install_dir"`
	DryRun     bool          `json:"dry_run"`
	Cancelled  bool          `json:"cancelled"`
	Duration   time.Duration `json:"duration"`

	started time.Time
}

// Success reports whether every unit succeeded and the run was not
// interrupted.
func (s *Summary) Success() bool {
	return len(s.Failed) == 0 && !s.Cancelled
}

func (s *Summary) fail(unit string, reasons ...string) {
	s.Failed = append(s.Failed, unit)
	if len(reasons) > 0 {
		if s.Errors == nil {
			s.Errors = make(map[string][]string)
		}
		s.Errors[unit] = append(s.Errors[unit], reasons...)
	}
}

// Installer drives install, update and uninstall batches over the units
// of a Registry.
type Installer struct {
	registry   *Registry
	installDir string
	state      *state.Store
	guard      *security.Guard

	logger  telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	history History
	backups *BackupManager
	events  *telemetry.EventPublisher

	dryRun        bool
	minFreeMB     int64
	frameworkVers string

	// free is replaceable in tests.
	free  func(path string) (uint64, error)
	now   func() time.Time
	newID func() string
}

// InstallerOption configures an Installer.
type InstallerOption func(*Installer)

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) InstallerOption {
	return func(i *Installer) { i.logger = l }
}

// WithTracer sets the tracer. Without one, spans are no-ops.
func WithTracer(t *telemetry.Tracer) InstallerOption {
	return func(i *Installer) { i.tracer = t }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) InstallerOption {
	return func(i *Installer) { i.metrics = m }
}

// WithHistory records every run in h.
func WithHistory(h History) InstallerOption {
	return func(i *Installer) { i.history = h }
}

// WithBackups sets the manager used for the pre-install backup.
func WithBackups(b *BackupManager) InstallerOption {
	return func(i *Installer) { i.backups = b }
}

// WithDryRun makes every batch report what it would do without mutating
// anything.
func WithDryRun(dryRun bool) InstallerOption {
	return func(i *Installer) { i.dryRun = dryRun }
}

// WithMinFreeMB sets the free disk space required by preflight.
func WithMinFreeMB(mb int64) InstallerOption {
	return func(i *Installer) { i.minFreeMB = mb }
}

// WithEvents sets the publisher receiving run and unit progress events.
func WithEvents(ep *telemetry.EventPublisher) InstallerOption {
	return func(i *Installer) { i.events = ep }
}

// WithRunIDs sets the generator of run IDs, so that records made outside
// the installer can share the ID of the run they belong to.
func WithRunIDs(next func() string) InstallerOption {
	return func(i *Installer) { i.newID = next }
}

// NewInstaller creates an installer for the units of registry. The
// install directory, state store and guard come from the registry's
// environment.
func NewInstaller(registry *Registry, opts ...InstallerOption) *Installer {
	env := registry.env
	i := &Installer{
		registry:      registry,
		installDir:    env.InstallDir,
		state:         env.State,
		guard:         env.Guard,
		logger:        env.Logger,
		minFreeMB:     DefaultMinFreeMB,
		frameworkVers: env.Version,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = telemetry.Nop()
	}
	if i.state == nil {
		i.state = state.NewStore(i.installDir, i.logger)
	}
	if i.frameworkVers == "" {
		i.frameworkVers = version.Framework
	}
	if i.backups == nil {
		i.backups = NewBackupManager(i.installDir,
			WithBackupState(i.state),
			WithBackupGuard(i.guard),
			WithBackupLogger(i.logger),
			WithBackupMetrics(i.metrics),
			WithBackupDryRun(i.dryRun),
		)
	}
	return i
}

// Install installs names and their dependencies in dependency order. With
// cfg.UpdateMode set, installed units are updated instead and units
// already at the target version are skipped unless cfg.Force is set.
//
// Resolution, preflight and backup failures are fatal and returned before
// anything is mutated. A unit that fails is recorded in the summary and
// the remaining units are still attempted. Cancelling ctx stops the batch
// between units.
func (i *Installer) Install(ctx context.Context, names []string, cfg components.InstallConfig) (*Summary, error) {
	cfg.DryRun = cfg.DryRun || i.dryRun
	op := stores.OperationInstall
	if cfg.UpdateMode {
		op = stores.OperationUpdate
	}

	sum, ctx, span := i.begin(ctx, op, cfg.DryRun)
	defer span.End()

	err := i.runInstall(ctx, sum, names, cfg)
	i.finish(ctx, span, sum, err)
	return sum, err
}

func (i *Installer) runInstall(ctx context.Context, sum *Summary, names []string, cfg components.InstallConfig) error {
	ordered, err := i.resolve(ctx, names)
	if err != nil {
		return err
	}
	i.logger.Info(fmt.Sprintf("installation order: %s", strings.Join(ordered, " -> ")))

	// Checked before preflight, which may create the directory.
	hadInstallation := dirHasEntries(i.installDir)

	if err := i.preflight(ctx, ordered, cfg.DryRun); err != nil {
		return err
	}

	if hadInstallation && !cfg.DryRun {
		if err := i.backup(ctx, sum); err != nil {
			return err
		}
	}

	for idx, name := range ordered {
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			i.logger.Warn(fmt.Sprintf("installation interrupted before %s", name))
			return nil
		}
		i.events.PublishUnitStarted(sum.RunID, sum.Operation, name, idx+1, len(ordered))
		i.installUnit(ctx, sum, name, cfg)
	}

	i.validate(ctx, sum)

	if !cfg.DryRun && len(sum.Installed)+len(sum.Updated) > 0 {
		if err := i.state.UpdateFrameworkVersion(i.frameworkVers); err != nil {
			i.logger.Warn(fmt.Sprintf("could not record framework version: %v", err))
		}
	}
	return nil
}

// begin starts a run: summary, run span and history record.
func (i *Installer) begin(ctx context.Context, op string, dryRun bool) (*Summary, context.Context, trace.Span) {
	sum := &Summary{
		RunID:      i.newID(),
		Operation:  op,
		InstallDir: i.installDir,
		DryRun:     dryRun,
		started:    i.now(),
	}
	ctx, span := i.tracer.StartRunSpan(ctx, sum.RunID, op)
	span.SetAttributes(telemetry.AttrDryRun.Bool(dryRun))

	if i.history != nil {
		run := &stores.Run{
			ID:         sum.RunID,
			Operation:  op,
			Status:     stores.RunStatusRunning,
			InstallDir: i.installDir,
			DryRun:     dryRun,
			StartedAt:  i.now(),
		}
		if err := i.history.CreateRun(ctx, run); err != nil {
			i.logger.Warn(fmt.Sprintf("could not record run: %v", err))
		}
	}
	i.logger.Debug(fmt.Sprintf("starting %s run %s", op, sum.RunID))
	i.events.PublishRunStarted(sum.RunID, op)
	return sum, ctx, span
}

// finish closes a run: status, metrics and history.
func (i *Installer) finish(ctx context.Context, span trace.Span, sum *Summary, err error) {
	sum.Duration = i.now().Sub(sum.started)
	sort.Strings(sum.Skipped)

	status := stores.RunStatusCompleted
	switch {
	case err != nil:
		status = stores.RunStatusFailed
		telemetry.RecordError(span, err)
	case sum.Cancelled:
		status = stores.RunStatusCancelled
		telemetry.RecordError(span, context.Canceled)
	case !sum.Success():
		status = stores.RunStatusFailed
		telemetry.RecordError(span, fmt.Errorf("failed units: %s", strings.Join(sum.Failed, ", ")))
	default:
		telemetry.RecordSuccess(span)
	}
	i.metrics.RecordRun(sum.Operation, string(status), sum.Duration)
	i.events.PublishRunCompleted(sum.RunID, sum.Operation, string(status), err)

	if i.history != nil {
		var errMsg *string
		if err != nil {
			msg := err.Error()
			errMsg = &msg
		}
		data, _ := json.Marshal(sum)
		// The run must be closed even when ctx was cancelled.
		if herr := i.history.FinishRun(context.WithoutCancel(ctx), sum.RunID, status, string(data), errMsg); herr != nil {
			i.logger.Warn(fmt.Sprintf("could not record run result: %v", herr))
		}
	}
}

func (i *Installer) resolve(ctx context.Context, names []string) ([]string, error) {
	_, span := i.tracer.StartPhaseSpan(ctx, "resolve")
	defer span.End()

	if len(names) == 0 {
		err := NewFatalError(ErrCodeValidation, "no components selected", nil)
		telemetry.RecordError(span, err)
		return nil, err
	}
	ordered, err := i.registry.ResolveDependencies(names)
	if err != nil {
		i.logger.Error(fmt.Sprintf("dependency resolution failed: %v", err))
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return ordered, nil
}

func (i *Installer) preflight(ctx context.Context, ordered []string, dryRun bool) error {
	_, span := i.tracer.StartPhaseSpan(ctx, "preflight")
	defer span.End()

	var required int64
	for _, name := range ordered {
		if u, ok := i.registry.Unit(name); ok {
			required += u.SizeEstimate()
		}
	}

	p := Preflight{
		InstallDir:    i.installDir,
		MinFreeMB:     i.minFreeMB,
		RequiredBytes: required,
		DryRun:        dryRun,
		Guard:         i.guard,
		Logger:        i.logger,
		free:          i.free,
	}
	errs := p.Check()
	if len(errs) == 0 {
		telemetry.RecordSuccess(span)
		return nil
	}

	i.logger.Error("system requirements not met:")
	for _, e := range errs {
		i.logger.Error("  - " + e.Error())
	}
	err := errors.Join(errs...)
	telemetry.RecordError(span, err)
	return err
}

func (i *Installer) backup(ctx context.Context, sum *Summary) error {
	_, span := i.tracer.StartPhaseSpan(ctx, "backup")
	defer span.End()

	i.logger.Info("backing up existing installation...")
	res, err := i.backups.Create(CreateOptions{})
	if err != nil {
		i.logger.Error(fmt.Sprintf("backup failed: %v", err))
		telemetry.RecordError(span, err)
		return err
	}
	sum.BackupPath = res.Path
	i.events.PublishBackupCreated(sum.RunID, sum.Operation, res.Path)
	telemetry.RecordSuccess(span)
	return nil
}

// installUnit runs one unit and records its outcome in sum.
func (i *Installer) installUnit(ctx context.Context, sum *Summary, name string, cfg components.InstallConfig) {
	op := sum.Operation
	ctx, span := i.tracer.StartUnitSpan(ctx, name, op)
	defer span.End()
	start := i.now()

	outcome, reasons := i.applyUnit(name, cfg)

	switch outcome {
	case telemetry.OutcomeInstalled:
		sum.Installed = append(sum.Installed, name)
	case telemetry.OutcomeUpdated:
		sum.Updated = append(sum.Updated, name)
	case telemetry.OutcomeSkipped:
		sum.Skipped = append(sum.Skipped, name)
	default:
		sum.fail(name, reasons...)
	}

	span.SetAttributes(telemetry.AttrOutcome.String(outcome))
	if outcome == telemetry.OutcomeFailed {
		telemetry.RecordError(span, NewUnitError(name, strings.Join(reasons, "; "), nil))
	} else {
		telemetry.RecordSuccess(span)
	}
	i.recordUnit(ctx, sum, name, op, outcome, reasons, start)
}

// applyUnit performs the install or update of one unit and returns the
// outcome with failure reasons.
func (i *Installer) applyUnit(name string, cfg components.InstallConfig) (string, []string) {
	unit, ok := i.registry.Unit(name)
	if !ok {
		return telemetry.OutcomeFailed, []string{fmt.Sprintf("unknown component: %s", name)}
	}
	if c, ok := unit.(components.Configurable); ok {
		c.Configure(cfg)
	}

	installed := i.state.IsComponentInstalled(name)
	target := unit.Metadata().Version

	if cfg.UpdateMode && installed && !cfg.Force {
		if current, ok := i.state.GetComponentVersion(name); ok && current == target {
			i.logger.Info(fmt.Sprintf("%s is up to date (%s)", name, current))
			return telemetry.OutcomeSkipped, nil
		}
	}

	ok, errs := unit.ValidatePrerequisites()
	if !ok {
		i.logger.Error(fmt.Sprintf("prerequisites failed for %s:", name))
		for _, e := range errs {
			i.logger.Error("  - " + e)
		}
		return telemetry.OutcomeFailed, errs
	}

	if cfg.DryRun {
		verb := "install"
		if cfg.UpdateMode {
			verb = "update"
		}
		i.logger.Info(fmt.Sprintf("[dry-run] would %s %s", verb, name))
		if cfg.UpdateMode {
			return telemetry.OutcomeUpdated, nil
		}
		return telemetry.OutcomeInstalled, nil
	}

	if cfg.UpdateMode && installed {
		if !safeCall(i.logger, name, "update", func() bool { return unit.Update(cfg) }) {
			return telemetry.OutcomeFailed, []string{"update failed"}
		}
		return telemetry.OutcomeUpdated, nil
	}

	if !safeCall(i.logger, name, "install", func() bool { return unit.Install(cfg) }) {
		return telemetry.OutcomeFailed, []string{"installation failed"}
	}
	return telemetry.OutcomeInstalled, nil
}

// safeCall runs a unit operation, turning a panic into a failure.
func safeCall(logger telemetry.Logger, unit, op string, fn func() bool) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error(fmt.Sprintf("unexpected error during %s of %s: %v", op, unit, p))
			ok = false
		}
	}()
	return fn()
}

func (i *Installer) recordUnit(ctx context.Context, sum *Summary, name, op, outcome string, reasons []string, start time.Time) {
	dur := i.now().Sub(start)
	i.metrics.RecordUnit(name, outcome, dur)
	i.events.PublishUnitCompleted(sum.RunID, op, name, outcome, strings.Join(reasons, "; "))

	if i.history == nil {
		return
	}
	res := &stores.UnitResult{
		RunID:      sum.RunID,
		Unit:       name,
		Operation:  op,
		Outcome:    outcome,
		DurationMS: dur.Milliseconds(),
		StartedAt:  start,
	}
	if u, ok := i.registry.Unit(name); ok {
		res.Version = u.Metadata().Version
	}
	if len(reasons) > 0 {
		msg := strings.Join(reasons, "; ")
		res.Error = &msg
	}
	if err := i.history.CreateUnitResult(context.WithoutCancel(ctx), res); err != nil {
		i.logger.Warn(fmt.Sprintf("could not record result of %s: %v", name, err))
	}
}

// validate checks every unit installed or updated by this run.
func (i *Installer) validate(ctx context.Context, sum *Summary) {
	if sum.DryRun {
		return
	}
	_, span := i.tracer.StartPhaseSpan(ctx, "validate")
	defer span.End()

	mutated := append(append([]string(nil), sum.Installed...), sum.Updated...)
	for _, name := range mutated {
		unit, ok := i.registry.Unit(name)
		if !ok {
			continue
		}
		ok, errs := unit.ValidateInstallation()
		if ok {
			i.logger.Debug(fmt.Sprintf("%s: valid", name))
			continue
		}
		if sum.Invalid == nil {
			sum.Invalid = make(map[string][]string)
		}
		sum.Invalid[name] = errs
		i.logger.Warn(fmt.Sprintf("%s failed validation:", name))
		for _, e := range errs {
			i.logger.Warn("  - " + e)
		}
	}
	if len(sum.Invalid) > 0 {
		telemetry.RecordError(span, fmt.Errorf("%d units failed validation", len(sum.Invalid)))
		return
	}
	telemetry.RecordSuccess(span)
}

// dirHasEntries reports whether dir exists and is not empty.
func dirHasEntries(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	return err == nil && len(names) > 0
}
