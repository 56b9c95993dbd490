package engine

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
	"github.com/superclaude-org/scinstall/pkg/version"
)

const (
	// DefaultBackupPrefix names archives created without an explicit name.
	DefaultBackupPrefix = "superclaude_backup"

	// BackupMetadataMember is the archive member describing the backup.
	BackupMetadataMember = "backup_metadata.json"

	// BackupDirName is the subdirectory of the install dir holding archives.
	BackupDirName = "backups"

	backupTimestamp = "20060102_150405"
)

// excludedTopLevel are install dir entries never archived.
var excludedTopLevel = map[string]bool{
	BackupDirName: true,
	"local":       true,
}

// Compression selects the archive format.
type Compression string

const (
	CompressionGzip  Compression = "gzip"
	CompressionNone  Compression = "none"
	CompressionBzip2 Compression = "bzip2"
)

// ParseCompression parses a --compress value.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", CompressionGzip:
		return CompressionGzip, nil
	case CompressionNone:
		return CompressionNone, nil
	case CompressionBzip2:
		return CompressionBzip2, nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

func (c Compression) extension() string {
	switch c {
	case CompressionNone:
		return ".tar"
	case CompressionBzip2:
		return ".tar.bz2"
	default:
		return ".tar.gz"
	}
}

// BackupMetadata is stored as the first member of every archive.
type BackupMetadata struct {
	BackupVersion    string            `json:"backup_version"`
	Created          string            `json:"created"`
	InstallDir       string            `json:"install_dir"`
	Components       map[string]string `json:"components"`
	FrameworkVersion string            `json:"framework_version"`
}

// BackupResult describes a created backup.
type BackupResult struct {
	Path  string
	Files int
	Size  int64
	// Empty is set when no file was archived: either a zero-byte marker
	// was written or the archive holds only its metadata member.
	Empty  bool
	DryRun bool
}

// BackupInfo describes an existing backup.
type BackupInfo struct {
	Path     string
	Name     string
	Size     int64
	Created  time.Time
	Files    int
	Empty    bool
	Metadata *BackupMetadata
}

// CreateOptions configures Create.
type CreateOptions struct {
	// Name replaces DefaultBackupPrefix in the archive file name.
	Name        string
	Compression Compression
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// Overwrite replaces files that already exist.
	Overwrite bool
}

// RestoreResult counts restored and skipped members.
type RestoreResult struct {
	Restored int
	Skipped  int
}

// BackupManager creates, lists, inspects, restores and prunes archives of
// an install directory.
type BackupManager struct {
	installDir string
	backupDir  string
	state      *state.Store
	guard      *security.Guard
	logger     telemetry.Logger
	metrics    *telemetry.Metrics
	dryRun     bool

	// compression is used when CreateOptions leaves it unset.
	compression Compression
	now         func() time.Time

	// archiveFile is replaceable in tests.
	archiveFile func(tw *tar.Writer, root, rel string) (bool, error)
}

// BackupOption configures a BackupManager.
type BackupOption func(*BackupManager)

// WithBackupDir overrides the archive directory.
func WithBackupDir(dir string) BackupOption {
	return func(b *BackupManager) { b.backupDir = dir }
}

// WithBackupState sets the state store used for archive metadata.
func WithBackupState(s *state.Store) BackupOption {
	return func(b *BackupManager) { b.state = s }
}

// WithBackupGuard sets the guard checked before restoring each member.
func WithBackupGuard(g *security.Guard) BackupOption {
	return func(b *BackupManager) { b.guard = g }
}

// WithBackupLogger sets the logger.
func WithBackupLogger(l telemetry.Logger) BackupOption {
	return func(b *BackupManager) { b.logger = l }
}

// WithBackupMetrics sets the metrics collector.
func WithBackupMetrics(m *telemetry.Metrics) BackupOption {
	return func(b *BackupManager) { b.metrics = m }
}

// WithBackupDryRun disables every filesystem mutation.
func WithBackupDryRun(dryRun bool) BackupOption {
	return func(b *BackupManager) { b.dryRun = dryRun }
}

// WithBackupCompression sets the default archive format.
func WithBackupCompression(c Compression) BackupOption {
	return func(b *BackupManager) { b.compression = c }
}

// WithBackupClock overrides the time source used for archive names.
func WithBackupClock(now func() time.Time) BackupOption {
	return func(b *BackupManager) { b.now = now }
}

// NewBackupManager creates a manager for installDir. Archives live in
// installDir/backups unless WithBackupDir is given.
func NewBackupManager(installDir string, opts ...BackupOption) *BackupManager {
	b := &BackupManager{
		installDir:  installDir,
		backupDir:   filepath.Join(installDir, BackupDirName),
		compression: CompressionGzip,
		now:         time.Now,
		archiveFile: addFile,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = telemetry.Nop()
	}
	if b.state == nil {
		b.state = state.NewStore(installDir, b.logger)
	}
	return b
}

// BackupDir returns the archive directory.
func (b *BackupManager) BackupDir() string {
	return b.backupDir
}

// Create archives the install directory. Files that cannot be read are
// logged and skipped. When nothing is left to archive a zero-byte marker
// is written in place of the archive and the result is flagged Empty; an
// archive in which every file was skipped is flagged Empty as well.
func (b *BackupManager) Create(opts CreateOptions) (*BackupResult, error) {
	if opts.Compression == "" {
		opts.Compression = b.compression
	}
	if opts.Compression == CompressionBzip2 {
		return nil, NewFatalError(ErrCodeBackupFailed,
			"bzip2 compression can only be read; create backups with gzip or none", nil).WithOp("backup")
	}

	if _, err := os.Stat(b.installDir); err != nil {
		return nil, NewFatalError(ErrCodeBackupFailed,
			fmt.Sprintf("installation directory %s not found", b.installDir), err).WithOp("backup")
	}

	files, err := b.collect()
	if err != nil {
		return nil, NewFatalError(ErrCodeBackupFailed, "could not scan installation directory", err).WithOp("backup")
	}

	prefix := DefaultBackupPrefix
	if opts.Name != "" {
		prefix = security.SanitizeFilename(opts.Name)
	}
	path := b.archivePath(prefix, opts.Compression)

	if b.dryRun {
		b.logger.Info(fmt.Sprintf("[dry-run] would back up %d files to %s", len(files), path))
		return &BackupResult{Path: path, Files: len(files), Empty: len(files) == 0, DryRun: true}, nil
	}

	if err := os.MkdirAll(b.backupDir, 0755); err != nil {
		return nil, NewFatalError(ErrCodeBackupFailed, "could not create backup directory", err).WithOp("backup")
	}

	if len(files) == 0 {
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return nil, NewFatalError(ErrCodeBackupFailed, "could not write empty backup marker", err).WithOp("backup")
		}
		b.logger.Warn(fmt.Sprintf("nothing to back up in %s, wrote empty marker %s", b.installDir, path))
		return &BackupResult{Path: path, Empty: true}, nil
	}

	archived, err := b.write(path, files, opts.Compression)
	if err != nil {
		return nil, NewFatalError(ErrCodeBackupFailed, "could not write backup archive", err).WithOp("backup")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, NewFatalError(ErrCodeBackupFailed, "backup archive missing after write", err).WithOp("backup")
	}
	b.metrics.SetBackupSize(info.Size())
	if archived == 0 {
		b.logger.Warn(fmt.Sprintf("no files could be archived, %s holds metadata only", path))
		return &BackupResult{Path: path, Size: info.Size(), Empty: true}, nil
	}
	b.logger.Success(fmt.Sprintf("backed up %d files to %s", archived, path))
	return &BackupResult{Path: path, Files: archived, Size: info.Size()}, nil
}

// collect lists the regular files of the install dir, relative to it,
// skipping excluded top-level entries and the archive directory.
func (b *BackupManager) collect() ([]string, error) {
	backupDir := filepath.Clean(b.backupDir)
	var files []string
	err := filepath.WalkDir(b.installDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == b.installDir {
				return err
			}
			b.logger.Warn(fmt.Sprintf("skipping %s: %v", path, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == b.installDir {
			return nil
		}
		rel, err := filepath.Rel(b.installDir, path)
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if excludedTopLevel[rel] || filepath.Clean(path) == backupDir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			b.logger.Debug(fmt.Sprintf("skipping non-regular file %s", path))
			return nil
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// archivePath returns a free archive name for prefix.
func (b *BackupManager) archivePath(prefix string, c Compression) string {
	base := fmt.Sprintf("%s_%s", prefix, b.now().Format(backupTimestamp))
	path := filepath.Join(b.backupDir, base+c.extension())
	for i := 1; ; i++ {
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
		path = filepath.Join(b.backupDir, fmt.Sprintf("%s_%d%s", base, i, c.extension()))
	}
}

// write streams the archive to a temporary sibling and renames it into
// place. It returns the number of files archived.
func (b *BackupManager) write(path string, files []string, c Compression) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var out io.Writer = tmp
	var gz *gzip.Writer
	if c == CompressionGzip {
		gz = gzip.NewWriter(tmp)
		out = gz
	}
	tw := tar.NewWriter(out)

	meta, err := json.MarshalIndent(b.metadata(), "", "  ")
	if err != nil {
		return 0, err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    BackupMetadataMember,
		Mode:    0644,
		Size:    int64(len(meta)),
		ModTime: b.now(),
	}); err != nil {
		return 0, err
	}
	if _, err := tw.Write(meta); err != nil {
		return 0, err
	}

	archived := 0
	for _, rel := range files {
		ok, err := b.archiveFile(tw, b.installDir, rel)
		if err != nil {
			return 0, err
		}
		if !ok {
			b.logger.Warn(fmt.Sprintf("could not back up %s, skipping", rel))
			continue
		}
		archived++
	}

	if err := tw.Close(); err != nil {
		return 0, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, err
		}
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	committed = true
	return archived, nil
}

// addFile appends one file. A file that cannot be opened is reported as
// not added; a failure after the header is written corrupts the archive
// and is returned as an error.
func addFile(tw *tar.Writer, root, rel string) (bool, error) {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return false, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, nil
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return false, err
	}
	if _, err := io.CopyN(tw, f, info.Size()); err != nil {
		return false, fmt.Errorf("archiving %s: %w", rel, err)
	}
	return true, nil
}

func (b *BackupManager) metadata() BackupMetadata {
	meta := BackupMetadata{
		BackupVersion:    version.Framework,
		Created:          b.now().Format(time.RFC3339),
		InstallDir:       b.installDir,
		Components:       b.state.InstalledComponents(),
		FrameworkVersion: "unknown",
	}
	if v, ok := b.state.GetMetadataSetting("framework.version"); ok {
		if s, ok := v.AsString(); ok && s != "" {
			meta.FrameworkVersion = s
		}
	}
	if meta.Components == nil {
		meta.Components = map[string]string{}
	}
	return meta
}

// List returns the archives in the backup directory, newest first.
func (b *BackupManager) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(b.backupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var backups []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !isArchiveName(e.Name()) {
			continue
		}
		info, err := b.Info(filepath.Join(b.backupDir, e.Name()))
		if err != nil {
			b.logger.Warn(fmt.Sprintf("could not read backup %s: %v", e.Name(), err))
			continue
		}
		backups = append(backups, *info)
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].Created.Equal(backups[j].Created) {
			return backups[i].Created.After(backups[j].Created)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

func isArchiveName(name string) bool {
	return strings.Contains(name, ".tar") && !strings.HasPrefix(name, ".")
}

// Resolve maps a backup name to a path in the backup directory. Paths
// that exist are returned unchanged.
func (b *BackupManager) Resolve(nameOrPath string) string {
	if _, err := os.Stat(nameOrPath); err == nil {
		return nameOrPath
	}
	if filepath.Base(nameOrPath) == nameOrPath {
		return filepath.Join(b.backupDir, nameOrPath)
	}
	return nameOrPath
}

// Info reads an archive's size, member count and metadata member.
func (b *BackupManager) Info(path string) (*BackupInfo, error) {
	path = b.Resolve(path)
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	info := &BackupInfo{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    st.Size(),
		Created: st.ModTime(),
	}
	if st.Size() == 0 {
		info.Empty = true
		return info, nil
	}

	err = walkArchive(path, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name == BackupMetadataMember {
			var meta BackupMetadata
			if err := json.NewDecoder(r).Decode(&meta); err != nil {
				b.logger.Warn(fmt.Sprintf("invalid backup metadata in %s: %v", info.Name, err))
				return nil
			}
			info.Metadata = &meta
			return nil
		}
		if hdr.Typeflag == tar.TypeReg {
			info.Files++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	info.Empty = info.Files == 0
	return info, nil
}

// Restore extracts an archive into the install directory. Existing files
// are kept unless opts.Overwrite is set. Members that would land outside
// the install directory or that the guard denies are skipped.
func (b *BackupManager) Restore(path string, opts RestoreOptions) (*RestoreResult, error) {
	path = b.Resolve(path)
	st, err := os.Stat(path)
	if err != nil {
		return nil, NewFatalError(ErrCodeBackupFailed, fmt.Sprintf("backup %s not found", path), err).WithOp("restore")
	}
	if st.Size() == 0 {
		return nil, NewFatalError(ErrCodeBackupFailed,
			fmt.Sprintf("backup %s is an empty marker and cannot be restored", filepath.Base(path)), nil).WithOp("restore")
	}

	result := &RestoreResult{}
	err = walkArchive(path, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name == BackupMetadataMember {
			return nil
		}
		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeDir:
		default:
			b.logger.Warn(fmt.Sprintf("skipping unsupported member %s", hdr.Name))
			result.Skipped++
			return nil
		}

		target, ok := b.memberTarget(hdr.Name)
		if !ok {
			b.logger.Warn(fmt.Sprintf("refusing to restore %s outside %s", hdr.Name, b.installDir))
			result.Skipped++
			return nil
		}
		if b.guard != nil {
			if ok, reason := b.guard.Validate(target, b.installDir); !ok {
				b.logger.Warn(fmt.Sprintf("refusing to restore %s: %s", hdr.Name, reason))
				result.Skipped++
				return nil
			}
		}

		if hdr.Typeflag == tar.TypeDir {
			if !b.dryRun {
				if err := os.MkdirAll(target, 0755); err != nil {
					b.logger.Warn(fmt.Sprintf("could not restore directory %s: %v", hdr.Name, err))
				}
			}
			return nil
		}

		if _, err := os.Lstat(target); err == nil && !opts.Overwrite {
			b.logger.Warn(fmt.Sprintf("skipping existing file %s", target))
			result.Skipped++
			return nil
		}
		if b.dryRun {
			b.logger.Info(fmt.Sprintf("[dry-run] would restore %s", target))
			result.Restored++
			return nil
		}
		if err := extractFile(target, hdr, r); err != nil {
			b.logger.Warn(fmt.Sprintf("could not restore %s: %v", hdr.Name, err))
			result.Skipped++
			return nil
		}
		result.Restored++
		if result.Restored%10 == 0 {
			b.logger.Debug(fmt.Sprintf("restored %d files", result.Restored))
		}
		return nil
	})
	if err != nil {
		return result, NewFatalError(ErrCodeBackupFailed, "could not read backup archive", err).WithOp("restore")
	}

	b.logger.Success(fmt.Sprintf("restored %d files from %s (%d skipped)", result.Restored, filepath.Base(path), result.Skipped))
	return result, nil
}

// memberTarget joins a member name onto the install dir, rejecting
// absolute names and names that escape it.
func (b *BackupManager) memberTarget(name string) (string, bool) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(b.installDir, clean), true
}

func extractFile(target string, hdr *tar.Header, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	mode := os.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if !hdr.ModTime.IsZero() {
		_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	}
	return nil
}

// walkArchive calls fn for every member of a gzip, bzip2 or plain tar.
func walkArchive(path string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".tar.bz2"):
		r = bzip2.NewReader(f)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// Cleanup removes archives older than olderThan and all but the newest
// keep archives. Zero disables either rule. It returns the removed paths.
func (b *BackupManager) Cleanup(keep int, olderThan time.Duration) ([]string, error) {
	backups, err := b.List()
	if err != nil {
		return nil, err
	}

	remove := make(map[string]bool)
	if olderThan > 0 {
		cutoff := b.now().Add(-olderThan)
		for _, bk := range backups {
			if bk.Created.Before(cutoff) {
				remove[bk.Path] = true
			}
		}
	}
	if keep > 0 && len(backups) > keep {
		for _, bk := range backups[keep:] {
			remove[bk.Path] = true
		}
	}

	var removed []string
	for _, bk := range backups {
		if !remove[bk.Path] {
			continue
		}
		if b.dryRun {
			b.logger.Info(fmt.Sprintf("[dry-run] would remove %s", bk.Name))
			removed = append(removed, bk.Path)
			continue
		}
		if err := os.Remove(bk.Path); err != nil {
			b.logger.Warn(fmt.Sprintf("could not remove %s: %v", bk.Name, err))
			continue
		}
		b.logger.Info(fmt.Sprintf("removed %s", bk.Name))
		removed = append(removed, bk.Path)
	}
	return removed, nil
}
