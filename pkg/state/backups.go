package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SettingsBackupKeep is how many settings backups are retained.
const SettingsBackupKeep = 10

// SettingsBackup describes one saved copy of settings.json.
type SettingsBackup struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// SettingsBackupDir is where settings backups are written.
func (s *Store) SettingsBackupDir() string {
	return filepath.Join(s.installDir, "backups", "settings")
}

// BackupSettings copies settings.json to
// backups/settings/settings_<timestamp>.json and prunes old copies. It
// returns an empty path when there is nothing to back up.
func (s *Store) BackupSettings() (string, error) {
	if _, err := os.Stat(s.SettingsPath()); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	dir := s.SettingsBackupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create settings backup directory: %w", err)
	}

	dst := filepath.Join(dir, fmt.Sprintf("settings_%s.json", s.now().Format("20060102_150405")))
	if err := copyFile(s.SettingsPath(), dst); err != nil {
		return "", fmt.Errorf("failed to back up settings: %w", err)
	}

	s.pruneSettingsBackups(SettingsBackupKeep)
	return dst, nil
}

// ListSettingsBackups returns the settings backups, newest first.
func (s *Store) ListSettingsBackups() []SettingsBackup {
	matches, _ := filepath.Glob(filepath.Join(s.SettingsBackupDir(), "settings_*.json"))

	backups := make([]SettingsBackup, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		backups = append(backups, SettingsBackup{
			Name:    filepath.Base(path),
			Path:    path,
			Size:    info.Size(),
			Created: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].Created.Equal(backups[j].Created) {
			return backups[i].Name > backups[j].Name
		}
		return backups[i].Created.After(backups[j].Created)
	})
	return backups
}

// RestoreSettingsBackup replaces settings.json with the named backup. The
// backup must parse as a JSON object; the current settings are backed up
// before being replaced.
func (s *Store) RestoreSettingsBackup(name string) error {
	if filepath.Base(name) != name {
		return fmt.Errorf("invalid backup name: %s", name)
	}
	src := filepath.Join(s.SettingsBackupDir(), name)

	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("backup not found: %s", name)
	}
	doc, err := loadDocument(src)
	if err != nil {
		return fmt.Errorf("backup %s is not usable: %w", name, err)
	}

	if err := s.SaveSettings(doc, true); err != nil {
		return err
	}
	s.logger.Info(fmt.Sprintf("restored settings from %s", name))
	return nil
}

func (s *Store) pruneSettingsBackups(keep int) {
	backups := s.ListSettingsBackups()
	if len(backups) <= keep {
		return
	}
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			s.logger.Warn(fmt.Sprintf("failed to remove old settings backup %s: %v", b.Name, err))
		}
	}
}
