// Package envvars persists API keys the installer collects as user
// environment variables and removes them again on uninstall.
//
// On Unix-like systems variables are exported from the user's shell
// startup file; on Windows they are stored with setx. Every variable set
// here is recorded in a tracking file inside the install directory. The
// tracking file stores a hash of each value, never the value itself.
package envvars

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

const (
	// TrackingFile lives in the install directory.
	TrackingFile = "superclaude_env_vars.json"

	// SetBy marks tracking entries written by the installer.
	SetBy = "superclaude"

	exportComment = "# SuperClaude API Key"
	envFileHeader = "# SuperClaude API Keys"
)

// KnownVariables are API key variables older releases set without
// tracking them.
var KnownVariables = []string{"TWENTYFIRST_API_KEY", "MORPH_API_KEY"}

// shellConfigs are checked in order; the first that exists is used.
var shellConfigs = []string{".zshrc", ".bashrc", ".profile", ".bash_profile"}

// TrackedVar is one entry of the tracking file.
type TrackedVar struct {
	SetBy     string `json:"set_by"`
	Timestamp string `json:"timestamp"`
	ValueHash string `json:"value_hash"`
}

// Runner executes an external command.
type Runner func(name string, args ...string) error

// Manager sets and removes persistent environment variables.
type Manager struct {
	home       string
	installDir string
	goos       string
	logger     telemetry.Logger
	run        Runner
	now        func() time.Time

	getenv   func(string) (string, bool)
	setenv   func(string, string) error
	unsetenv func(string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithHome overrides the user's home directory.
func WithHome(home string) Option {
	return func(m *Manager) { m.home = home }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPlatform overrides runtime.GOOS.
func WithPlatform(goos string) Option {
	return func(m *Manager) { m.goos = goos }
}

// WithRunner replaces the command runner used on Windows.
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.run = r }
}

// WithClock overrides the time source for tracking timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEnviron replaces the process environment accessors.
func WithEnviron(get func(string) (string, bool), set func(string, string) error, unset func(string) error) Option {
	return func(m *Manager) {
		m.getenv, m.setenv, m.unsetenv = get, set, unset
	}
}

// New creates a Manager tracking variables in installDir.
func New(installDir string, opts ...Option) *Manager {
	m := &Manager{
		installDir: installDir,
		goos:       runtime.GOOS,
		now:        time.Now,
		getenv:     os.LookupEnv,
		setenv:     os.Setenv,
		unsetenv:   os.Unsetenv,
		run: func(name string, args ...string) error {
			out, err := exec.Command(name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.home == "" {
		m.home, _ = os.UserHomeDir()
	}
	if m.logger == nil {
		m.logger = telemetry.Nop()
	}
	return m
}

func (m *Manager) windows() bool { return m.goos == "windows" }

// DetectShellConfig returns the first existing shell startup file, or
// ~/.bashrc when none exists.
func (m *Manager) DetectShellConfig() string {
	for _, name := range shellConfigs {
		path := filepath.Join(m.home, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(m.home, ".bashrc")
}

// ShellName returns the base name of $SHELL, or "unknown".
func (m *Manager) ShellName() string {
	if shell, ok := m.getenv("SHELL"); ok && shell != "" {
		return filepath.Base(shell)
	}
	return "unknown"
}

// Setup sets every variable for the current process and persists it. An
// export already present in the shell file is left alone. Variables are
// tracked only when every one of them was persisted.
func (m *Manager) Setup(vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}

	var errs []error
	for _, name := range sortedKeys(vars) {
		value := vars[name]
		if err := m.setenv(name, value); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", name, err))
			continue
		}
		if err := m.persist(name, value); err != nil {
			m.logger.Warn(fmt.Sprintf("could not persist %s: %v", name, err))
			errs = append(errs, err)
			continue
		}
		m.logger.Debug(fmt.Sprintf("environment variable %s set for the current session", name))
	}

	if len(errs) > 0 {
		m.logger.Warn("some environment variables could not be set permanently")
		return errors.Join(errs...)
	}

	if err := m.track(vars); err != nil {
		m.logger.Warn(fmt.Sprintf("could not update environment tracking: %v", err))
	}
	if m.windows() {
		m.logger.Info("new environment variables are available in new terminal sessions")
	} else {
		m.logger.Info(fmt.Sprintf("restart your terminal or run 'source %s' to apply changes", m.DetectShellConfig()))
	}
	return nil
}

func (m *Manager) persist(name, value string) error {
	if m.windows() {
		if err := m.run("setx", name, value); err != nil {
			return err
		}
		m.logger.Info(fmt.Sprintf("set %s permanently", name))
		return nil
	}

	path := m.DetectShellConfig()
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if strings.Contains(string(content), "export "+name+"=") {
		m.logger.Info(fmt.Sprintf("%s is already exported in %s", name, filepath.Base(path)))
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "\n%s\n%s\n", exportComment, exportLine(name, value)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	m.logger.Info(fmt.Sprintf("added %s to %s", name, filepath.Base(path)))
	return nil
}

// WriteEnvFile appends variables missing from a dotenv file and restricts
// it to the owner. path defaults to ~/.env.
func (m *Manager) WriteEnvFile(vars map[string]string, path string) error {
	if path == "" {
		path = filepath.Join(m.home, ".env")
	}
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var lines []string
	for _, name := range sortedKeys(vars) {
		if strings.Contains(string(existing), name+"=") {
			m.logger.Info(fmt.Sprintf("%s already present in %s", name, filepath.Base(path)))
			continue
		}
		lines = append(lines, name+"="+quote(vars[name]))
	}
	if len(lines) == 0 {
		return nil
	}

	var b strings.Builder
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(envFileHeader + "\n")
	for _, l := range lines {
		b.WriteString(l + "\n")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		return err
	}
	m.logger.Success(fmt.Sprintf("wrote %d variables to %s", len(lines), path))
	return nil
}

// Validate reports whether every variable is set to its expected value.
func (m *Manager) Validate(vars map[string]string) bool {
	ok := true
	for _, name := range sortedKeys(vars) {
		current, set := m.getenv(name)
		switch {
		case !set:
			m.logger.Warn(fmt.Sprintf("environment variable %s is not set", name))
			ok = false
		case current != vars[name]:
			m.logger.Warn(fmt.Sprintf("environment variable %s has an unexpected value", name))
			ok = false
		}
	}
	return ok
}

// Tracked returns the tracking file's entries.
func (m *Manager) Tracked() (map[string]TrackedVar, error) {
	data, err := os.ReadFile(m.trackingPath())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]TrackedVar{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]TrackedVar{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", TrackingFile, err)
	}
	return out, nil
}

// Managed returns the installer's variables that are set in the current
// environment, with their values. Known API key variables count even when
// untracked.
func (m *Manager) Managed() map[string]string {
	found := map[string]string{}
	tracked, err := m.Tracked()
	if err != nil {
		m.logger.Warn(fmt.Sprintf("could not read environment tracking: %v", err))
	}
	for name, entry := range tracked {
		if entry.SetBy != SetBy {
			continue
		}
		if v, ok := m.getenv(name); ok && v != "" {
			found[name] = v
		}
	}
	for _, name := range KnownVariables {
		if _, ok := found[name]; ok {
			continue
		}
		if v, ok := m.getenv(name); ok && v != "" {
			found[name] = v
		}
	}
	return found
}

// Cleanup removes variables from the current process and from persistent
// storage. With restoreScript set a script re-creating them is written
// first; its path is returned.
func (m *Manager) Cleanup(vars map[string]string, restoreScript bool) (string, error) {
	if len(vars) == 0 {
		return "", nil
	}

	var script string
	if restoreScript {
		path, err := m.writeRestoreScript(vars)
		if err != nil {
			m.logger.Warn(fmt.Sprintf("could not create restore script: %v", err))
		} else {
			script = path
			m.logger.Info(fmt.Sprintf("restore script written to %s", path))
		}
	}

	var errs []error
	for _, name := range sortedKeys(vars) {
		if _, ok := m.getenv(name); ok {
			if err := m.unsetenv(name); err != nil {
				errs = append(errs, fmt.Errorf("unset %s: %w", name, err))
				continue
			}
		}
		if m.windows() {
			// The variable may not exist in the registry, which is fine.
			if err := m.run("reg", "delete", `HKCU\Environment`, "/v", name, "/f"); err != nil {
				m.logger.Debug(fmt.Sprintf("registry delete of %s: %v", name, err))
			}
			continue
		}
		if err := m.removeExport(name); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		m.logger.Warn("some environment variables could not be removed")
		return script, errors.Join(errs...)
	}
	if err := m.untrack(sortedKeys(vars)); err != nil {
		m.logger.Warn(fmt.Sprintf("could not update environment tracking: %v", err))
	}
	m.logger.Success("environment variables removed")
	return script, nil
}

// removeExport drops the export of name from the shell startup file,
// together with the marker comment and blank line written before it.
func (m *Manager) removeExport(name string) error {
	path := m.DetectShellConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	kept := make([]string, 0, len(lines))
	removed := false
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "export "+name+"=") {
			kept = append(kept, line)
			continue
		}
		removed = true
		if n := len(kept); n > 0 && strings.TrimSpace(kept[n-1]) == exportComment {
			kept = kept[:n-1]
			if n := len(kept); n > 0 && strings.TrimSpace(kept[n-1]) == "" {
				kept = kept[:n-1]
			}
		}
	}
	if !removed {
		return nil
	}
	if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")), 0644); err != nil {
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	m.logger.Info(fmt.Sprintf("removed %s from %s", name, filepath.Base(path)))
	return nil
}

func (m *Manager) writeRestoreScript(vars map[string]string) (string, error) {
	var b strings.Builder
	var path string
	if m.windows() {
		path = filepath.Join(m.home, "restore_superclaude_env.bat")
		b.WriteString("@echo off\r\n")
		b.WriteString("REM SuperClaude environment variable restore script\r\n\r\n")
		for _, name := range sortedKeys(vars) {
			fmt.Fprintf(&b, "setx %s \"%s\"\r\n", name, vars[name])
		}
		b.WriteString("\r\necho Environment variables restored\r\n")
	} else {
		path = filepath.Join(m.home, "restore_superclaude_env.sh")
		shellConfig := m.DetectShellConfig()
		b.WriteString("#!/bin/bash\n")
		b.WriteString("# SuperClaude environment variable restore script\n\n")
		for _, name := range sortedKeys(vars) {
			line := exportLine(name, vars[name])
			b.WriteString(line + "\n")
			fmt.Fprintf(&b, "echo %s >> %s\n", singleQuote(line), singleQuote(shellConfig))
		}
		b.WriteString("\necho 'Environment variables restored'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0700); err != nil {
		return "", err
	}
	// WriteFile honours the umask; the script must be executable.
	if err := os.Chmod(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) trackingPath() string {
	return filepath.Join(m.installDir, TrackingFile)
}

func (m *Manager) track(vars map[string]string) error {
	tracked, err := m.Tracked()
	if err != nil {
		tracked = map[string]TrackedVar{}
	}
	ts := m.now().Format(time.RFC3339)
	for name, value := range vars {
		tracked[name] = TrackedVar{SetBy: SetBy, Timestamp: ts, ValueHash: HashValue(value)}
	}
	if err := m.saveTracking(tracked); err != nil {
		return err
	}
	m.logger.Debug(fmt.Sprintf("tracking %d environment variables", len(vars)))
	return nil
}

func (m *Manager) untrack(names []string) error {
	tracked, err := m.Tracked()
	if err != nil {
		return err
	}
	for _, name := range names {
		delete(tracked, name)
	}
	return m.saveTracking(tracked)
}

// saveTracking writes the tracking file, or removes it once nothing is
// tracked so that it never keeps an otherwise empty install dir alive.
func (m *Manager) saveTracking(tracked map[string]TrackedVar) error {
	if len(tracked) == 0 {
		if err := os.Remove(m.trackingPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(m.installDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tracked, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.trackingPath(), append(data, '\n'), 0600)
}

// HashValue returns the hex SHA-256 of value.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func exportLine(name, value string) string {
	return "export " + name + "=" + quote(value)
}

// quote wraps value in double quotes, escaping what the shell would
// otherwise expand.
func quote(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(value) + `"`
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
