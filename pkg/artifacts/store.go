package artifacts

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// DefaultIgnorePatterns are skipped by CopyDirectory when no patterns are given.
var DefaultIgnorePatterns = []string{".git", ".gitignore", "__pycache__", "*.pyc", ".DS_Store"}

// Store performs the installer's file operations. Every path goes through
// the Guard first. In dry-run mode operations only log what they would do.
//
// Failures are reported as false plus a log line; callers compare counts
// against what they expected.
type Store struct {
	guard  *security.Guard
	logger telemetry.Logger
	dryRun bool

	copied  []string
	created []string
}

// New creates a Store.
func New(guard *security.Guard, logger telemetry.Logger, dryRun bool) *Store {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Store{
		guard:  guard,
		logger: logger,
		dryRun: dryRun,
	}
}

// DryRun reports whether the store only logs operations.
func (s *Store) DryRun() bool {
	return s.dryRun
}

// Guard returns the path guard used by the store.
func (s *Store) Guard() *security.Guard {
	return s.guard
}

// CopyFile copies src to dst, creating parent directories and keeping the
// source permissions and modification time. The destination is replaced
// through a temporary sibling so an interrupted copy never leaves a
// truncated file behind.
func (s *Store) CopyFile(src, dst string) bool {
	if !s.allowed(src) || !s.allowed(dst) {
		return false
	}

	info, err := os.Stat(src)
	if err != nil {
		s.logger.Error(fmt.Sprintf("source file not found: %s", src))
		return false
	}
	if !info.Mode().IsRegular() {
		s.logger.Error(fmt.Sprintf("source is not a regular file: %s", src))
		return false
	}

	if s.dryRun {
		s.logger.Info(fmt.Sprintf("[dry-run] would copy %s -> %s", src, dst))
		return true
	}

	if err := s.mkdirAll(filepath.Dir(dst)); err != nil {
		s.logger.Error(fmt.Sprintf("failed to create directory for %s: %v", dst, err))
		return false
	}

	if err := copyFile(src, dst, info); err != nil {
		s.logger.Error(fmt.Sprintf("failed to copy %s -> %s: %v", src, dst, err))
		return false
	}

	s.copied = append(s.copied, dst)
	s.logger.Debug(fmt.Sprintf("copied %s -> %s", src, dst))
	return true
}

// CopyDirectory copies the tree under src to dst. Entries whose name or
// slash-separated relative path matches an ignore pattern are skipped. A
// nil ignore list means DefaultIgnorePatterns.
func (s *Store) CopyDirectory(src, dst string, ignore []string) bool {
	if !s.allowed(src) || !s.allowed(dst) {
		return false
	}

	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		s.logger.Error(fmt.Sprintf("source directory not found: %s", src))
		return false
	}

	if ignore == nil {
		ignore = DefaultIgnorePatterns
	}
	matchers, err := compileIgnore(ignore)
	if err != nil {
		s.logger.Error(fmt.Sprintf("invalid ignore pattern: %v", err))
		return false
	}

	if s.dryRun {
		s.logger.Info(fmt.Sprintf("[dry-run] would copy directory %s -> %s", src, dst))
		return true
	}

	ok := true
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return s.mkdirAll(dst)
		}
		if ignored(matchers, d.Name(), filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return s.mkdirAll(target)
		}
		if !s.CopyFile(path, target) {
			ok = false
		}
		return nil
	})
	if walkErr != nil {
		s.logger.Error(fmt.Sprintf("failed to copy directory %s -> %s: %v", src, dst, walkErr))
		return false
	}

	return ok
}

// EnsureDirectory creates dir and its parents with mode 0755.
func (s *Store) EnsureDirectory(dir string) bool {
	if !s.allowed(dir) {
		return false
	}
	if s.dryRun {
		s.logger.Info(fmt.Sprintf("[dry-run] would create directory %s", dir))
		return true
	}
	if err := s.mkdirAll(dir); err != nil {
		s.logger.Error(fmt.Sprintf("failed to create directory %s: %v", dir, err))
		return false
	}
	return true
}

// RemoveFile deletes a regular file. A missing file counts as removed.
func (s *Store) RemoveFile(path string) bool {
	if !s.allowed(path) {
		return false
	}

	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		s.logger.Error(fmt.Sprintf("failed to stat %s: %v", path, err))
		return false
	}
	if info.IsDir() {
		s.logger.Error(fmt.Sprintf("not a file: %s", path))
		return false
	}

	if s.dryRun {
		s.logger.Info(fmt.Sprintf("[dry-run] would remove file %s", path))
		return true
	}

	if err := os.Remove(path); err != nil {
		s.logger.Error(fmt.Sprintf("failed to remove %s: %v", path, err))
		return false
	}
	s.logger.Debug(fmt.Sprintf("removed %s", path))
	return true
}

// RemoveDirectory deletes dir. Without recursive only an empty directory is
// removed. A missing directory counts as removed.
func (s *Store) RemoveDirectory(dir string, recursive bool) bool {
	if !s.allowed(dir) {
		return false
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		s.logger.Error(fmt.Sprintf("failed to stat %s: %v", dir, err))
		return false
	}
	if !info.IsDir() {
		s.logger.Error(fmt.Sprintf("not a directory: %s", dir))
		return false
	}

	if s.dryRun {
		s.logger.Info(fmt.Sprintf("[dry-run] would remove directory %s (recursive=%t)", dir, recursive))
		return true
	}

	if recursive {
		err = os.RemoveAll(dir)
	} else {
		err = os.Remove(dir)
	}
	if err != nil {
		s.logger.Error(fmt.Sprintf("failed to remove directory %s: %v", dir, err))
		return false
	}
	return true
}

// HashFile returns the hex sha256 of the file contents.
func (s *Store) HashFile(path string) (string, error) {
	if s.guard != nil {
		if ok, reason := s.guard.Validate(path, ""); !ok {
			return "", fmt.Errorf("path rejected: %s", reason)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// BackupFile copies path to a sibling with suffix appended to its name and
// returns the backup location. An empty suffix means ".backup".
func (s *Store) BackupFile(path, suffix string) (string, bool) {
	if suffix == "" {
		suffix = ".backup"
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}

	backup := path + suffix
	if !s.CopyFile(path, backup) {
		return "", false
	}
	return backup, true
}

// ListFiles returns the regular files in dir whose name matches pattern,
// sorted. With recursive, subdirectories are searched too.
func (s *Store) ListFiles(dir, pattern string, recursive bool) []string {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}

	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// Summary describes what the store changed during this process.
type Summary struct {
	FilesCopied        int
	DirectoriesCreated int
	DryRun             bool
}

// Summary returns the operation counters.
func (s *Store) Summary() Summary {
	return Summary{
		FilesCopied:        len(s.copied),
		DirectoriesCreated: len(s.created),
		DryRun:             s.dryRun,
	}
}

// Rollback removes the files copied by this store and then the directories
// it created, newest first. Directories are only removed when empty.
func (s *Store) Rollback() {
	if s.dryRun {
		s.logger.Info("[dry-run] would roll back copied files")
		return
	}
	for i := len(s.copied) - 1; i >= 0; i-- {
		_ = os.Remove(s.copied[i])
	}
	for i := len(s.created) - 1; i >= 0; i-- {
		_ = os.Remove(s.created[i])
	}
	s.copied = nil
	s.created = nil
}

func (s *Store) allowed(path string) bool {
	if s.guard == nil {
		return true
	}
	if ok, reason := s.guard.Validate(path, ""); !ok {
		s.logger.Error(fmt.Sprintf("security validation failed for %s: %s", path, reason))
		return false
	}
	return true
}

// mkdirAll creates dir and records each directory it had to create.
func (s *Store) mkdirAll(dir string) error {
	var missing []string
	for cur := dir; ; cur = filepath.Dir(cur) {
		if _, err := os.Stat(cur); err == nil {
			break
		}
		missing = append(missing, cur)
		if filepath.Dir(cur) == cur {
			break
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		s.created = append(s.created, missing[i])
	}
	return nil
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func compileIgnore(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func ignored(matchers []glob.Glob, name, rel string) bool {
	for _, m := range matchers {
		if m.Match(name) || m.Match(rel) {
			return true
		}
	}
	return false
}
