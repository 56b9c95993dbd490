package components

import (
	"fmt"
	"path"
)

// Modes installs the behavioral mode documents into the modes/ subdirectory.
type Modes struct {
	*Base
}

// NewModes builds the modes unit.
func NewModes(env Env) (Unit, error) {
	b := newBase(env, Metadata{
		Name:        "modes",
		Description: "SuperClaude behavioral modes (brainstorming, introspection, task management, token efficiency)",
		Category:    CategoryModes,
	}, []string{"core"}, "Modes", "modes")
	b.files = discoverFiles(b.sourceDir, ".md", DefaultExcludedFiles, b.logger)

	m := &Modes{Base: b}
	b.installFn = m.install
	b.postInstallFn = m.postInstall
	b.uninstallFn = m.uninstall
	return m, nil
}

func (m *Modes) install(cfg InstallConfig) bool {
	if len(m.files) == 0 {
		m.logger.Warn("no mode files found to install")
		return false
	}
	return m.copyFiles(cfg)
}

// imports are relative to the install root, where CLAUDE.md lives.
func (m *Modes) imports() []string {
	out := make([]string, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, path.Join("modes", f))
	}
	return out
}

func (m *Modes) postInstall(InstallConfig) bool {
	if !m.register(nil) {
		return false
	}
	md := NewClaudeMD(m.env.InstallDir, m.env.Guard, m.logger)
	if err := md.AddImports(m.imports(), ImportCategoryModes); err != nil {
		m.logger.Warn(fmt.Sprintf("could not update CLAUDE.md: %v", err))
	}
	return true
}

func (m *Modes) uninstall() bool {
	removed := 0
	for _, p := range m.FilesToInstall() {
		if m.env.Files.RemoveFile(p.Target) {
			removed++
		}
	}
	m.removeTargetDirIfEmpty()
	m.unregister()

	md := NewClaudeMD(m.env.InstallDir, m.env.Guard, m.logger)
	if err := md.RemoveImports(m.imports()); err != nil {
		m.logger.Warn(fmt.Sprintf("could not update CLAUDE.md: %v", err))
	}

	m.logger.Success(fmt.Sprintf("modes uninstalled (%d files removed)", removed))
	return true
}
