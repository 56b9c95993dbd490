package components

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// DefaultExcludedFiles are never treated as installable artifacts.
var DefaultExcludedFiles = []string{"README.md", "CHANGELOG.md", "LICENSE.md"}

// Base implements the shared unit lifecycle. Variants embed it and replace
// the step functions they need to customize.
//
// Install runs prerequisite validation, copies every file, checks the
// copied count and then runs the post-install step. Uninstall and Update
// follow the same pattern. Each entry point converts a panic in its body
// into a false result.
type Base struct {
	env       Env
	meta      Metadata
	deps      []string
	sourceDir string
	targetDir string
	files     []string
	logger    telemetry.Logger

	installFn     func(cfg InstallConfig) bool
	postInstallFn func(cfg InstallConfig) bool
	uninstallFn   func() bool
	updateFn      func(cfg InstallConfig) bool
	validateFn    func() (bool, []string)
	filesFn       func() []security.FilePair
}

// newBase builds the shared part of a unit. sourceSub is relative to
// env.SourceDir and targetSub to env.InstallDir.
func newBase(env Env, meta Metadata, deps []string, sourceSub, targetSub string) *Base {
	env = env.withDefaults()
	if meta.Version == "" {
		meta.Version = env.Version
	}

	b := &Base{
		env:       env,
		meta:      meta,
		deps:      deps,
		sourceDir: filepath.Join(env.SourceDir, sourceSub),
		targetDir: filepath.Join(env.InstallDir, targetSub),
		logger:    env.Logger.With("component", meta.Name),
	}
	b.installFn = b.copyFiles
	b.postInstallFn = b.registerInstall
	b.uninstallFn = b.removeFiles
	b.updateFn = b.reinstall
	b.validateFn = b.validateFiles
	b.filesFn = b.defaultFilesToInstall
	return b
}

// Metadata returns the unit's metadata.
func (b *Base) Metadata() Metadata { return b.meta }

// Dependencies returns the names of the units this one requires.
func (b *Base) Dependencies() []string { return append([]string(nil), b.deps...) }

// ComponentFiles returns the artifact file names the unit owns.
func (b *Base) ComponentFiles() []string { return append([]string(nil), b.files...) }

// SourceDir returns the directory artifacts are copied from.
func (b *Base) SourceDir() string { return b.sourceDir }

// TargetDir returns the directory artifacts are copied to.
func (b *Base) TargetDir() string { return b.targetDir }

// FilesToInstall pairs each owned file with its install location.
func (b *Base) FilesToInstall() []security.FilePair { return b.filesFn() }

func (b *Base) defaultFilesToInstall() []security.FilePair {
	pairs := make([]security.FilePair, 0, len(b.files))
	for _, name := range b.files {
		pairs = append(pairs, security.FilePair{
			Source: filepath.Join(b.sourceDir, name),
			Target: filepath.Join(b.targetDir, name),
		})
	}
	return pairs
}

// Install installs the unit. It never panics.
func (b *Base) Install(cfg InstallConfig) bool {
	return b.guarded("install", func() bool { return b.installFn(cfg) })
}

// Uninstall removes the unit. A unit that is not registered in the
// metadata is left alone and reported as removed.
func (b *Base) Uninstall() bool {
	return b.guarded("uninstall", func() bool {
		if !b.env.State.IsComponentInstalled(b.meta.Name) {
			b.logger.Info(fmt.Sprintf("%s is not installed, nothing to remove", b.meta.Name))
			return true
		}
		return b.uninstallFn()
	})
}

// Update brings an installed unit to the current version.
func (b *Base) Update(cfg InstallConfig) bool {
	return b.guarded("update", func() bool { return b.updateFn(cfg) })
}

// ValidateInstallation checks that the unit's files exist and that it is
// registered.
func (b *Base) ValidateInstallation() (bool, []string) {
	ok := false
	var errs []string
	b.guarded("validate", func() bool {
		ok, errs = b.validateFn()
		return ok
	})
	if !ok && len(errs) == 0 {
		errs = []string{fmt.Sprintf("validation of %s failed unexpectedly", b.meta.Name)}
	}
	return ok, errs
}

// SizeEstimate is the total size of the source artifacts.
func (b *Base) SizeEstimate() int64 {
	var total int64
	for _, p := range b.FilesToInstall() {
		if info, err := os.Stat(p.Source); err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
	}
	return total
}

// ValidatePrerequisites checks everything an install needs before any file
// is written. The target directory is created as a side effect; failing to
// create it is logged but not reported as an error.
func (b *Base) ValidatePrerequisites() (bool, []string) {
	var errs []string

	info, err := os.Stat(b.sourceDir)
	if err != nil || !info.IsDir() {
		return false, []string{fmt.Sprintf("source directory not found: %s", b.sourceDir)}
	}

	var missing []string
	for _, name := range b.files {
		if _, err := os.Stat(filepath.Join(b.sourceDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("missing component files: %s", strings.Join(missing, ", ")))
	}

	if ok, reason := security.CheckPermissions(b.env.InstallDir, false, true); !ok {
		errs = append(errs, fmt.Sprintf("no write permission for %s: %s", b.env.InstallDir, reason))
	}

	if ok, reason := b.env.Guard.ValidateInstallTarget(b.targetDir); !ok {
		errs = append(errs, reason)
	}

	if ok, fileErrs := b.env.Guard.ValidateComponentFiles(b.FilesToInstall(), b.sourceDir, b.targetDir); !ok {
		errs = append(errs, fileErrs...)
	}

	if !b.env.Files.EnsureDirectory(b.targetDir) {
		b.logger.Warn(fmt.Sprintf("could not create installation directory %s", b.targetDir))
	}

	return len(errs) == 0, errs
}

// copyFiles is the default install step.
func (b *Base) copyFiles(cfg InstallConfig) bool {
	if ok, errs := b.ValidatePrerequisites(); !ok {
		for _, e := range errs {
			b.logger.Error(e)
		}
		return false
	}

	pairs := b.FilesToInstall()
	copied := 0
	for _, p := range pairs {
		if b.env.Files.CopyFile(p.Source, p.Target) {
			copied++
		} else {
			b.logger.Error(fmt.Sprintf("failed to copy %s", filepath.Base(p.Source)))
		}
	}
	if copied != len(pairs) {
		b.logger.Error(fmt.Sprintf("only %d of %d files copied", copied, len(pairs)))
		return false
	}

	b.logger.Success(fmt.Sprintf("%s installed (%d files)", b.meta.Name, copied))
	return b.postInstallFn(cfg)
}

// registerInstall is the default post-install step.
func (b *Base) registerInstall(InstallConfig) bool {
	return b.register(nil)
}

// register records the unit in the metadata with its version, category
// and file count plus any extra fields.
func (b *Base) register(extra map[string]state.Value) bool {
	fields := map[string]state.Value{
		"version":     state.String(b.meta.Version),
		"category":    state.String(b.meta.Category),
		"files_count": state.Int(int64(len(b.files))),
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := b.env.State.AddComponentRegistration(b.meta.Name, state.Object(fields)); err != nil {
		b.logger.Error(fmt.Sprintf("failed to update metadata: %v", err))
		return false
	}
	return true
}

// unregister removes the unit from the metadata. Failures are soft.
func (b *Base) unregister() {
	if _, err := b.env.State.RemoveComponentRegistration(b.meta.Name); err != nil {
		b.logger.Warn(fmt.Sprintf("could not update metadata: %v", err))
	}
}

// removeFiles is the default uninstall step.
func (b *Base) removeFiles() bool {
	removed := 0
	for _, p := range b.FilesToInstall() {
		if b.env.Files.RemoveFile(p.Target) {
			removed++
		} else {
			b.logger.Warn(fmt.Sprintf("could not remove %s", p.Target))
		}
	}
	b.unregister()
	b.logger.Success(fmt.Sprintf("%s uninstalled (%d files removed)", b.meta.Name, removed))
	return true
}

// removeTargetDirIfEmpty deletes a unit subdirectory left without files.
func (b *Base) removeTargetDirIfEmpty() {
	if b.targetDir == b.env.InstallDir {
		return
	}
	entries, err := os.ReadDir(b.targetDir)
	if err != nil || len(entries) > 0 {
		return
	}
	if !b.env.Files.RemoveDirectory(b.targetDir, false) {
		b.logger.Warn(fmt.Sprintf("could not remove directory %s", b.targetDir))
	}
}

// reinstall is the default update step: uninstall, then install.
func (b *Base) reinstall(cfg InstallConfig) bool {
	if b.env.State.IsComponentInstalled(b.meta.Name) && !b.uninstallFn() {
		return false
	}
	return b.installFn(cfg)
}

// validateFiles is the default installation check.
func (b *Base) validateFiles() (bool, []string) {
	var errs []string
	for _, p := range b.FilesToInstall() {
		info, err := os.Stat(p.Target)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("file not found: %s", p.Target))
		case !info.Mode().IsRegular():
			errs = append(errs, fmt.Sprintf("not a regular file: %s", p.Target))
		}
	}
	if !b.env.State.IsComponentInstalled(b.meta.Name) {
		errs = append(errs, fmt.Sprintf("%s is not registered in %s", b.meta.Name, state.MetadataFile))
	}
	return len(errs) == 0, errs
}

func (b *Base) guarded(op string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Sprintf("unexpected error during %s of %s: %v", op, b.meta.Name, r))
			b.logger.Debug(string(debug.Stack()))
			ok = false
		}
	}()
	return fn()
}

// discoverFiles lists the regular files in dir with the given extension,
// skipping excluded names. The result is sorted. A missing directory
// yields no files.
func discoverFiles(dir, ext string, exclude []string, logger telemetry.Logger) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error(fmt.Sprintf("failed to scan %s: %v", dir, err))
		}
		return nil
	}

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || skip[e.Name()] {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ext) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	logger.Debug(fmt.Sprintf("found %d %s files in %s", len(files), ext, dir))
	return files
}
