package components

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/superclaude-org/scinstall/pkg/state"
)

// ServerDocs maps MCP server keys to their documentation file.
var ServerDocs = map[string]string{
	"context7":   "MCP_Context7.md",
	"sequential": "MCP_Sequential.md",
	"magic":      "MCP_Magic.md",
	"playwright": "MCP_Playwright.md",
	"serena":     "MCP_Serena.md",
	"morphllm":   "MCP_Morphllm.md",
}

// MCPDocs installs documentation for the selected MCP servers.
type MCPDocs struct {
	*Base
	selected []string
}

// NewMCPDocs builds the MCP documentation unit.
func NewMCPDocs(env Env) (Unit, error) {
	b := newBase(env, Metadata{
		Name:        "mcp_docs",
		Description: "MCP server documentation and usage guides",
		Category:    CategoryDocumentation,
	}, []string{"core"}, "MCP", "")

	d := &MCPDocs{Base: b}
	b.installFn = d.install
	b.postInstallFn = d.postInstall
	b.uninstallFn = d.uninstall
	return d, nil
}

// SetSelectedServers chooses which servers get documentation. Servers
// whose documentation is missing from the source tree are skipped.
func (d *MCPDocs) SetSelectedServers(servers []string) {
	d.selected = append([]string(nil), servers...)
	d.files = nil
	for _, s := range d.selected {
		doc, ok := ServerDocs[s]
		if !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(d.sourceDir, doc)); err != nil {
			d.logger.Warn(fmt.Sprintf("documentation file not found: %s", doc))
			continue
		}
		d.files = append(d.files, doc)
	}
}

// Configure applies the server selection ahead of prerequisite checks.
func (d *MCPDocs) Configure(cfg InstallConfig) { d.SetSelectedServers(cfg.SelectedMCPServers) }

func (d *MCPDocs) install(cfg InstallConfig) bool {
	d.SetSelectedServers(cfg.SelectedMCPServers)
	if len(d.selected) == 0 {
		d.logger.Info("no MCP servers selected, skipping documentation")
		return d.postInstall(cfg)
	}
	if len(d.files) == 0 {
		d.logger.Warn("no MCP documentation files found to install")
		return d.postInstall(cfg)
	}
	return d.copyFiles(cfg)
}

func (d *MCPDocs) postInstall(InstallConfig) bool {
	servers := append([]string(nil), d.selected...)
	sort.Strings(servers)
	if !d.register(map[string]state.Value{"servers_documented": state.Strings(servers...)}) {
		return false
	}
	if len(d.files) == 0 {
		return true
	}
	md := NewClaudeMD(d.env.InstallDir, d.env.Guard, d.logger)
	if err := md.AddImports(d.files, ImportCategoryMCP); err != nil {
		d.logger.Warn(fmt.Sprintf("could not update CLAUDE.md: %v", err))
	}
	return true
}

// uninstall removes every known documentation file, selected or not.
func (d *MCPDocs) uninstall() bool {
	docs := make([]string, 0, len(ServerDocs))
	for _, doc := range ServerDocs {
		docs = append(docs, doc)
	}
	sort.Strings(docs)

	removed := 0
	for _, doc := range docs {
		target := filepath.Join(d.targetDir, doc)
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if d.env.Files.RemoveFile(target) {
			removed++
		}
	}
	d.unregister()

	md := NewClaudeMD(d.env.InstallDir, d.env.Guard, d.logger)
	if err := md.RemoveImports(docs); err != nil {
		d.logger.Warn(fmt.Sprintf("could not update CLAUDE.md: %v", err))
	}

	d.logger.Success(fmt.Sprintf("mcp_docs uninstalled (%d files removed)", removed))
	return true
}
