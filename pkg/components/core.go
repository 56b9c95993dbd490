package components

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/superclaude-org/scinstall/pkg/state"
)

// Core installs the framework documentation into the install root and
// owns the framework block of the metadata.
type Core struct {
	*Base
}

// NewCore builds the core unit.
func NewCore(env Env) (Unit, error) {
	b := newBase(env, Metadata{
		Name:        "core",
		Description: "SuperClaude framework documentation and core files",
		Category:    CategoryCore,
	}, nil, "Core", "")
	b.files = discoverFiles(b.sourceDir, ".md", DefaultExcludedFiles, b.logger)

	c := &Core{Base: b}
	b.postInstallFn = c.postInstall
	b.uninstallFn = c.uninstall
	b.updateFn = c.update
	b.validateFn = c.validate
	return c, nil
}

// metadataMods is merged into the metadata on install and removed again
// on uninstall.
func (c *Core) metadataMods() state.Value {
	return state.Object(map[string]state.Value{
		"framework": state.Object(map[string]state.Value{
			"version":           state.String(c.meta.Version),
			"name":              state.String("SuperClaude"),
			"description":       state.String("AI-enhanced development framework for Claude Code"),
			"installation_type": state.String("global"),
			"components":        state.Strings("core"),
		}),
		"superclaude": state.Object(map[string]state.Value{
			"enabled":     state.Bool(true),
			"version":     state.String(c.meta.Version),
			"profile":     state.String("default"),
			"auto_update": state.Bool(false),
		}),
	})
}

func (c *Core) postInstall(InstallConfig) bool {
	st := c.env.State
	if err := st.UpdateMetadata(c.metadataMods()); err != nil {
		c.logger.Error(fmt.Sprintf("failed to update metadata: %v", err))
		return false
	}
	if !c.register(nil) {
		return false
	}
	if migrated, err := st.MigrateLegacySettings(); err != nil {
		c.logger.Error(fmt.Sprintf("failed to migrate settings: %v", err))
		return false
	} else if migrated {
		c.logger.Info("migrated existing framework data out of settings.json")
	}

	for _, dir := range []string{"commands", "backups", "logs"} {
		if !c.env.Files.EnsureDirectory(filepath.Join(c.env.InstallDir, dir)) {
			c.logger.Warn(fmt.Sprintf("could not create directory %s", dir))
		}
	}

	md := NewClaudeMD(c.env.InstallDir, c.env.Guard, c.logger)
	if err := md.AddImports(c.files, ImportCategoryCore); err != nil {
		c.logger.Warn(fmt.Sprintf("could not update CLAUDE.md: %v", err))
	}
	return true
}

func (c *Core) uninstall() bool {
	removed := 0
	for _, p := range c.FilesToInstall() {
		if c.env.Files.RemoveFile(p.Target) {
			removed++
		} else {
			c.logger.Warn(fmt.Sprintf("could not remove %s", filepath.Base(p.Target)))
		}
	}

	c.unregister()
	if doc, err := c.env.State.LoadMetadata(); err == nil {
		if err := c.env.State.SaveMetadata(doc.Without(c.metadataMods().Keys()...)); err != nil {
			c.logger.Warn(fmt.Sprintf("could not update metadata: %v", err))
		}
	}

	md := NewClaudeMD(c.env.InstallDir, c.env.Guard, c.logger)
	if err := md.RemoveImports(c.files); err != nil {
		c.logger.Warn(fmt.Sprintf("could not update CLAUDE.md: %v", err))
	}

	c.logger.Success(fmt.Sprintf("core uninstalled (%d files removed)", removed))
	return true
}

// update skips an install at the same version. Otherwise existing files are
// copied aside with a .backup suffix, restored if the install fails and
// deleted if it succeeds.
func (c *Core) update(cfg InstallConfig) bool {
	current, _ := c.env.State.GetComponentVersion(c.meta.Name)
	if current == c.meta.Version && !cfg.Force {
		c.logger.Info(fmt.Sprintf("core is already at version %s", current))
		return true
	}
	c.logger.Info(fmt.Sprintf("updating core from %q to %s", current, c.meta.Version))

	var backups []string
	for _, p := range c.FilesToInstall() {
		if _, err := os.Stat(p.Target); err != nil {
			continue
		}
		if path, ok := c.env.Files.BackupFile(p.Target, ".backup"); ok {
			backups = append(backups, path)
		}
	}

	if c.installFn(cfg) {
		for _, path := range backups {
			_ = os.Remove(path)
		}
		c.logger.Success(fmt.Sprintf("core updated to %s", c.meta.Version))
		return true
	}

	c.logger.Warn("update failed, restoring previous files")
	for _, path := range backups {
		original := path[:len(path)-len(".backup")]
		if err := os.Rename(path, original); err != nil {
			c.logger.Error(fmt.Sprintf("could not restore %s: %v", original, err))
		}
	}
	return false
}

func (c *Core) validate() (bool, []string) {
	ok, errs := c.validateFiles()

	if installed, found := c.env.State.GetComponentVersion(c.meta.Name); found && installed != c.meta.Version {
		errs = append(errs, fmt.Sprintf("version mismatch: installed %s, expected %s", installed, c.meta.Version))
	}

	framework, found := c.env.State.GetMetadataSetting("framework")
	if !found || !framework.IsObject() {
		errs = append(errs, "metadata has no framework block")
	} else {
		for _, key := range []string{"version", "name", "description"} {
			if !framework.Has(key) {
				errs = append(errs, fmt.Sprintf("metadata is missing framework.%s", key))
			}
		}
	}

	return ok && len(errs) == 0, errs
}
