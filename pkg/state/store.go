package state

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

const (
	// MetadataFile is the document owned by the installer.
	MetadataFile = ".superclaude-metadata.json"
	// SettingsFile is the host settings document shared with other tools.
	SettingsFile = "settings.json"

	// TimestampFormat is used for installed_at and updated_at fields.
	TimestampFormat = time.RFC3339
)

// LegacyKeys are the top-level settings keys that older releases wrote
// into settings.json and that now live in the metadata document.
var LegacyKeys = []string{"components", "framework", "superclaude", "mcp"}

// Store persists installation state under an install directory.
//
// Every write replaces the whole document: the previous version is copied
// aside first, the new content goes to a temporary sibling and is renamed
// over the original.
type Store struct {
	installDir string
	logger     telemetry.Logger
	now        func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store rooted at installDir.
func NewStore(installDir string, logger telemetry.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = telemetry.Nop()
	}
	s := &Store{
		installDir: installDir,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstallDir returns the directory the store is rooted at.
func (s *Store) InstallDir() string { return s.installDir }

// MetadataPath returns the location of the metadata document.
func (s *Store) MetadataPath() string { return filepath.Join(s.installDir, MetadataFile) }

// SettingsPath returns the location of the settings document.
func (s *Store) SettingsPath() string { return filepath.Join(s.installDir, SettingsFile) }

// LoadMetadata reads the metadata document. A missing file yields {}.
func (s *Store) LoadMetadata() (Value, error) {
	return loadDocument(s.MetadataPath())
}

// SaveMetadata validates and writes the metadata document.
func (s *Store) SaveMetadata(doc Value) error {
	if !doc.IsObject() {
		return fmt.Errorf("metadata must be a JSON object, got %s", doc.Kind())
	}
	if err := Validate(SchemaMetadata, doc); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	return s.writeDocument(s.MetadataPath(), doc)
}

// UpdateMetadata deep-merges mods into the stored metadata.
func (s *Store) UpdateMetadata(mods Value) error {
	current, err := s.LoadMetadata()
	if err != nil {
		return err
	}
	return s.SaveMetadata(DeepMerge(current, mods))
}

// LoadSettings reads the settings document. A missing file yields {}.
func (s *Store) LoadSettings() (Value, error) {
	return loadDocument(s.SettingsPath())
}

// SaveSettings writes the settings document. With backup set, the current
// file is first copied into the settings backup directory.
func (s *Store) SaveSettings(doc Value, backup bool) error {
	if !doc.IsObject() {
		return fmt.Errorf("settings must be a JSON object, got %s", doc.Kind())
	}
	if backup {
		if _, err := s.BackupSettings(); err != nil {
			return err
		}
	}
	return s.writeDocument(s.SettingsPath(), doc)
}

// UpdateSettings deep-merges mods into the stored settings.
func (s *Store) UpdateSettings(mods Value, backup bool) error {
	current, err := s.LoadSettings()
	if err != nil {
		return err
	}
	return s.SaveSettings(DeepMerge(current, mods), backup)
}

// GetSetting returns the settings value at a dotted path.
func (s *Store) GetSetting(keyPath string) (Value, bool) {
	doc, err := s.LoadSettings()
	if err != nil {
		return Value{}, false
	}
	return doc.Lookup(splitPath(keyPath)...)
}

// SetSetting stores a settings value at a dotted path.
func (s *Store) SetSetting(keyPath string, v Value, backup bool) error {
	return s.UpdateSettings(EmptyObject().WithPath(splitPath(keyPath), v), backup)
}

// RemoveSetting deletes the settings value at a dotted path. It reports
// whether anything was removed.
func (s *Store) RemoveSetting(keyPath string, backup bool) (bool, error) {
	doc, err := s.LoadSettings()
	if err != nil {
		return false, err
	}
	keys := splitPath(keyPath)
	parentPath, last := keys[:len(keys)-1], keys[len(keys)-1]
	parent, ok := doc.Lookup(parentPath...)
	if !ok || !parent.Has(last) {
		return false, nil
	}
	return true, s.SaveSettings(doc.WithPath(parentPath, parent.Without(last)), backup)
}

// MigrateLegacySettings moves LegacyKeys from settings.json into the
// metadata document and strips them from settings.json. It reports whether
// a migration happened; once the keys are gone it is a no-op.
func (s *Store) MigrateLegacySettings() (bool, error) {
	settings, err := s.LoadSettings()
	if err != nil {
		return false, err
	}

	migrate := EmptyObject()
	for _, key := range LegacyKeys {
		if v, ok := settings.Get(key); ok {
			migrate = migrate.With(key, v)
		}
	}
	if migrate.Len() == 0 {
		return false, nil
	}

	if err := s.UpdateMetadata(migrate); err != nil {
		return false, fmt.Errorf("failed to migrate legacy settings: %w", err)
	}
	if err := s.SaveSettings(settings.Without(LegacyKeys...), true); err != nil {
		return false, fmt.Errorf("failed to clean legacy settings: %w", err)
	}

	s.logger.Info(fmt.Sprintf("migrated %s from %s to %s", strings.Join(migrate.Keys(), ", "), SettingsFile, MetadataFile))
	return true, nil
}

// AddComponentRegistration records a component as installed. installed_at
// is set to the current time.
func (s *Store) AddComponentRegistration(name string, info Value) error {
	entry := EmptyObject()
	if info.IsObject() {
		entry = info
	}
	entry = entry.With("installed_at", String(s.now().Format(TimestampFormat)))

	doc, err := s.LoadMetadata()
	if err != nil {
		return err
	}
	components, _ := doc.Get("components")
	return s.SaveMetadata(doc.With("components", components.With(name, entry)))
}

// RemoveComponentRegistration deletes a component from the metadata. It
// reports whether the component was registered.
func (s *Store) RemoveComponentRegistration(name string) (bool, error) {
	doc, err := s.LoadMetadata()
	if err != nil {
		return false, err
	}
	components, ok := doc.Get("components")
	if !ok || !components.Has(name) {
		return false, nil
	}
	return true, s.SaveMetadata(doc.With("components", components.Without(name)))
}

// InstalledComponents maps every registered component with a version to
// that version.
func (s *Store) InstalledComponents() map[string]string {
	out := map[string]string{}
	doc, err := s.LoadMetadata()
	if err != nil {
		s.logger.Warn(fmt.Sprintf("failed to read metadata: %v", err))
		return out
	}
	components, _ := doc.Get("components")
	for _, name := range components.Keys() {
		if v, ok := s.versionOf(components, name); ok {
			out[name] = v
		}
	}
	return out
}

// IsComponentInstalled reports whether components[name].version is set.
func (s *Store) IsComponentInstalled(name string) bool {
	_, ok := s.GetComponentVersion(name)
	return ok
}

// GetComponentVersion returns components[name].version.
func (s *Store) GetComponentVersion(name string) (string, bool) {
	doc, err := s.LoadMetadata()
	if err != nil {
		s.logger.Warn(fmt.Sprintf("failed to read metadata: %v", err))
		return "", false
	}
	components, _ := doc.Get("components")
	return s.versionOf(components, name)
}

func (s *Store) versionOf(components Value, name string) (string, bool) {
	v, ok := components.Lookup(name, "version")
	if !ok {
		return "", false
	}
	version, ok := v.AsString()
	return version, ok && version != ""
}

// UpdateFrameworkVersion sets framework.version and framework.updated_at.
func (s *Store) UpdateFrameworkVersion(version string) error {
	return s.UpdateMetadata(Object(map[string]Value{
		"framework": Object(map[string]Value{
			"version":    String(version),
			"updated_at": String(s.now().Format(TimestampFormat)),
		}),
	}))
}

// GetMetadataSetting returns the metadata value at a dotted path such as
// "framework.version".
func (s *Store) GetMetadataSetting(keyPath string) (Value, bool) {
	doc, err := s.LoadMetadata()
	if err != nil {
		return Value{}, false
	}
	return doc.Lookup(splitPath(keyPath)...)
}

// SetMetadataSetting stores a metadata value at a dotted path.
func (s *Store) SetMetadataSetting(keyPath string, v Value) error {
	return s.UpdateMetadata(EmptyObject().WithPath(splitPath(keyPath), v))
}

// InstallationExists reports whether a metadata document is present.
func (s *Store) InstallationExists() bool {
	_, err := os.Stat(s.MetadataPath())
	return err == nil
}

// LegacyInstallationExists reports whether a settings document is present.
func (s *Store) LegacyInstallationExists() bool {
	_, err := os.Stat(s.SettingsPath())
	return err == nil
}

func splitPath(keyPath string) []string {
	return strings.Split(keyPath, ".")
}

func loadDocument(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return EmptyObject(), nil
	}
	if err != nil {
		return Value{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return EmptyObject(), nil
	}
	doc, err := Parse(data)
	if err != nil {
		return Value{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if !doc.IsObject() {
		return Value{}, fmt.Errorf("%s does not hold a JSON object", path)
	}
	return doc, nil
}

// writeDocument copies the current file to <path>.bak and then replaces
// it atomically.
func (s *Store) writeDocument(path string, doc Value) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("failed to back up %s: %w", path, err)
		}
	}

	return writeAtomic(path, data, 0644)
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
