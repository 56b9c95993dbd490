package security

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// Guard validates filesystem paths before the installer reads or writes
// them. Checks run in a fixed order and the first failing check decides.
type Guard struct {
	systemPatterns []*regexp.Regexp
	sinks          []AuditSink
	logger         telemetry.Logger
	homeDir        func() (string, error)
	goos           string
	now            func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger used for decisions and sink failures.
func WithLogger(l telemetry.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithAuditSink adds a sink to the audit trail.
func WithAuditSink(s AuditSink) Option {
	return func(g *Guard) { g.sinks = append(g.sinks, s) }
}

// WithSystemPrefixes replaces the Unix system directory denylist.
func WithSystemPrefixes(prefixes ...string) Option {
	return func(g *Guard) {
		g.systemPatterns = append(prefixPatterns(prefixes), windowsSystemPatterns...)
	}
}

// WithHomeDir overrides home directory lookup.
func WithHomeDir(fn func() (string, error)) Option {
	return func(g *Guard) { g.homeDir = fn }
}

// WithPlatform overrides the platform used for Windows-only checks.
func WithPlatform(goos string) Option {
	return func(g *Guard) { g.goos = goos }
}

// NewGuard creates a Guard with the default denylists.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		systemPatterns: append(prefixPatterns(DefaultUnixSystemPrefixes), windowsSystemPatterns...),
		logger:         telemetry.Nop(),
		homeDir:        os.UserHomeDir,
		goos:           runtime.GOOS,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks path and, when baseDir is not empty, that path resolves
// inside baseDir. It returns false with a reason on the first failed check.
func (g *Guard) Validate(path, baseDir string) (bool, string) {
	ok, reason := g.check(path, baseDir)
	if !ok {
		g.record(ActionDeny, path, reason)
	}
	return ok, reason
}

func (g *Guard) check(path, baseDir string) (bool, string) {
	if path == "" {
		return false, "Path is empty"
	}

	if ok, reason := checkLengths(path); !ok {
		return false, reason
	}

	// Resolution can consume traversal tokens, so the raw text goes first.
	if ok, reason := checkTraversal(path); !ok {
		return false, reason
	}

	resolved := resolvePath(path)
	for _, candidate := range []string{path, resolved} {
		if g.isSystemPath(candidate) {
			return false, fmt.Sprintf("Path targets a protected system directory: %s", candidate)
		}
	}

	name := strings.ToLower(lastSegment(path))
	if p, found := matchAny(dangerousFilenamePatterns, name); found {
		return false, fmt.Sprintf("Potentially dangerous filename %q (matches %s)", lastSegment(path), p.String())
	}

	if baseDir != "" && !isWithin(resolvePath(baseDir), resolved) {
		return false, fmt.Sprintf("Path is outside allowed directory: %s", baseDir)
	}

	if strings.ContainsRune(path, 0) {
		return false, "Path contains null byte"
	}

	if g.goos == "windows" {
		stem := strings.ToLower(lastSegment(path))
		if i := strings.IndexByte(stem, '.'); i >= 0 {
			stem = stem[:i]
		}
		if reservedNames[stem] {
			return false, fmt.Sprintf("Reserved device name: %s", lastSegment(path))
		}
	}

	return true, ""
}

// ValidateInstallTarget approves the installation root. A directory named
// ProductDirName that resolves inside the user's home directory skips the
// system directory denylist; on Windows it must not be a junction or a
// symbolic link. Every other target goes through Validate.
func (g *Guard) ValidateInstallTarget(target string) (bool, string) {
	if ok, reason := checkLengths(target); !ok {
		g.record(ActionDeny, target, reason)
		return false, reason
	}
	if ok, reason := checkTraversal(target); !ok {
		g.record(ActionDeny, target, reason)
		return false, reason
	}

	resolved := resolvePath(target)

	home, herr := g.homeDir()
	switch {
	case filepath.Base(resolved) != ProductDirName:
	case herr != nil || home == "":
		g.logger.Warn(fmt.Sprintf("could not resolve home directory, validating %s as a regular target", resolved))
	default:
		if !isWithin(resolvePath(home), resolved) || resolvePath(home) == resolved {
			reason := fmt.Sprintf("Installation directory %s must be in your home directory", resolved)
			g.record(ActionDeny, target, reason)
			return false, reason
		}

		if g.goos == "windows" {
			if info, err := os.Lstat(target); err == nil && info.Mode()&(os.ModeSymlink|os.ModeIrregular) != 0 {
				reason := "Installation directory cannot be a junction or symbolic link"
				g.record(ActionDeny, target, reason)
				return false, reason
			}
		}

		if ok, reason := checkAccess(resolved, true, true); !ok {
			g.record(ActionDeny, target, reason)
			return false, reason
		}

		g.record(ActionAllow, target, "Installation target inside user home directory")
		return true, ""
	}

	if ok, reason := g.Validate(target, ""); !ok {
		return false, reason
	}

	if ok, reason := checkAccess(resolved, true, true); !ok {
		g.record(ActionDeny, target, reason)
		return false, reason
	}

	g.record(ActionAllow, target, "Installation target validated")
	return true, ""
}

// FilePair is a source artifact and the location it is installed to.
type FilePair struct {
	Source string
	Target string
}

// ValidateComponentFiles checks every pair: the source against sourceBase,
// the target against targetBase and the target's extension against
// AllowedExtensions. All failures are returned.
func (g *Guard) ValidateComponentFiles(pairs []FilePair, sourceBase, targetBase string) (bool, []string) {
	var errs []string
	for _, p := range pairs {
		if ok, reason := g.Validate(p.Source, sourceBase); !ok {
			errs = append(errs, fmt.Sprintf("invalid source path %s: %s", p.Source, reason))
		}
		if ok, reason := g.Validate(p.Target, targetBase); !ok {
			errs = append(errs, fmt.Sprintf("invalid target path %s: %s", p.Target, reason))
		}
		if !ValidateExtension(p.Target) {
			errs = append(errs, fmt.Sprintf("file type not allowed: %s", filepath.Ext(p.Target)))
		}
	}
	return len(errs) == 0, errs
}

// ValidateExtension reports whether path has an allowed extension or none.
func ValidateExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == "" || AllowedExtensions[ext]
}

// SanitizeFilename replaces characters that are invalid in file names on
// any supported platform and trims the result to MaxFilenameLength.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 32, strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), ". ")
	if len(out) > MaxFilenameLength {
		out = out[:MaxFilenameLength]
	}
	if out == "" {
		return "unnamed"
	}
	return out
}

func (g *Guard) isSystemPath(p string) bool {
	n := normalize(p)
	for _, candidate := range []string{n, n + "/"} {
		if _, found := matchAny(g.systemPatterns, candidate); found {
			return true
		}
	}
	return false
}

// record appends a decision to every sink. Sink failures are logged only.
func (g *Guard) record(action Action, path, reason string) {
	d := Decision{
		Time:   g.now().UTC(),
		Action: action,
		Path:   path,
		Reason: reason,
		PID:    os.Getpid(),
	}

	if action == ActionDeny {
		g.logger.Warn(fmt.Sprintf("path denied: %s (%s)", path, reason))
	} else {
		g.logger.Debug(fmt.Sprintf("path %s: %s (%s)", strings.ToLower(string(action)), path, reason))
	}

	for _, s := range g.sinks {
		if err := s.Record(d); err != nil {
			g.logger.Debug(fmt.Sprintf("failed to record security decision: %v", err))
		}
	}
}

func checkLengths(path string) (bool, string) {
	if len(path) > MaxPathLength {
		return false, fmt.Sprintf("Path too long: %d characters (max %d)", len(path), MaxPathLength)
	}
	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if len(part) > MaxFilenameLength {
			return false, fmt.Sprintf("Filename too long: %d characters (max %d)", len(part), MaxFilenameLength)
		}
	}
	return true, ""
}

func checkTraversal(path string) (bool, string) {
	if _, found := matchAny(traversalPatterns, strings.ToLower(path)); found {
		return false, "Path contains directory traversal pattern"
	}
	return true, ""
}

// resolvePath returns the absolute, symlink-resolved form of p. Missing
// trailing components are kept as written on top of the deepest existing
// ancestor.
func resolvePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}

	var rest []string
	cur := abs
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{real}, rest...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// isWithin reports whether target equals base or is a descendant of it.
func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func normalize(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
}

func lastSegment(p string) string {
	parts := strings.FieldsFunc(p, isSeparator)
	if len(parts) == 0 {
		return p
	}
	return parts[len(parts)-1]
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
