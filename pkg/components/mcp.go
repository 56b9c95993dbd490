package components

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
)

// MCPServer is an integration server the installer can configure.
type MCPServer struct {
	Key         string
	Name        string
	Description string
	ConfigFile  string
	APIKeyEnv   string
}

// RequiresAPIKey reports whether the server needs a secret to run.
func (s MCPServer) RequiresAPIKey() bool { return s.APIKeyEnv != "" }

// MCPServers lists the servers known to the installer.
var MCPServers = []MCPServer{
	{Key: "context7", Name: "context7", Description: "Official library documentation and code examples", ConfigFile: "context7.json"},
	{Key: "sequential", Name: "sequential-thinking", Description: "Multi-step problem solving and systematic analysis", ConfigFile: "sequential.json"},
	{Key: "magic", Name: "magic", Description: "Modern UI component generation and design systems", ConfigFile: "magic.json", APIKeyEnv: "TWENTYFIRST_API_KEY"},
	{Key: "playwright", Name: "playwright", Description: "Cross-browser E2E testing and automation", ConfigFile: "playwright.json"},
	{Key: "serena", Name: "serena", Description: "Semantic code analysis and intelligent editing", ConfigFile: "serena.json"},
	{Key: "morphllm", Name: "morphllm-fast-apply", Description: "Fast apply for context-aware code modifications", ConfigFile: "morphllm.json", APIKeyEnv: "MORPH_API_KEY"},
}

// LookupServer finds a server by key.
func LookupServer(key string) (MCPServer, bool) {
	for _, s := range MCPServers {
		if s.Key == key {
			return s, true
		}
	}
	return MCPServer{}, false
}

// MCP configures integration servers in the shared Claude config
// document. It copies no files.
type MCP struct {
	*Base
	selected []string
	retry    lockRetry
}

// NewMCP builds the MCP unit.
func NewMCP(env Env) (Unit, error) {
	b := newBase(env, Metadata{
		Name:        "mcp",
		Description: "MCP server configuration in .claude.json",
		Category:    CategoryIntegration,
	}, []string{"core"}, filepath.Join("MCP", "configs"), "")

	m := &MCP{Base: b, retry: defaultLockRetry}
	b.installFn = m.install
	b.postInstallFn = m.postInstall
	b.uninstallFn = m.uninstall
	b.validateFn = m.validate
	b.filesFn = func() []security.FilePair { return nil }
	return m, nil
}

// ConfigPath returns the shared config document the unit edits.
func (m *MCP) ConfigPath() string { return m.env.ClaudeConfigPath }

// SizeEstimate is small: only a config document changes.
func (m *MCP) SizeEstimate() int64 { return 4096 }

// Configure applies the server selection ahead of prerequisite checks.
func (m *MCP) Configure(cfg InstallConfig) {
	m.selected = append([]string(nil), cfg.SelectedMCPServers...)
}

// ValidatePrerequisites requires the server snippets and an existing
// shared config document. With no servers selected nothing is required.
func (m *MCP) ValidatePrerequisites() (bool, []string) {
	if len(m.selected) == 0 {
		return true, nil
	}
	var errs []string
	if info, err := os.Stat(m.sourceDir); err != nil || !info.IsDir() {
		return false, []string{fmt.Sprintf("MCP config source directory not found: %s", m.sourceDir)}
	}
	if _, err := os.Stat(m.ConfigPath()); err != nil {
		errs = append(errs,
			fmt.Sprintf("Claude config file not found: %s", m.ConfigPath()),
			"run Claude Code at least once to create it")
	}
	if ok, reason := m.env.Guard.Validate(m.ConfigPath(), ""); !ok {
		errs = append(errs, reason)
	}
	return len(errs) == 0, errs
}

func (m *MCP) install(cfg InstallConfig) bool {
	m.Configure(cfg)
	if len(m.selected) == 0 {
		m.logger.Info("no MCP servers selected, skipping MCP configuration")
		return m.postInstall(cfg)
	}
	if len(cfg.CollectedAPIKeys) > 0 {
		m.logger.Info(fmt.Sprintf("using %d collected API keys for configuration", len(cfg.CollectedAPIKeys)))
	}

	if ok, errs := m.ValidatePrerequisites(); !ok {
		for _, e := range errs {
			m.logger.Error(e)
		}
		return false
	}

	doc, err := m.loadConfig()
	if err != nil {
		m.logger.Error(err.Error())
		return false
	}
	servers, _ := doc.Get("mcpServers")

	configured := 0
	var applied []string
	for _, key := range m.selected {
		server, ok := LookupServer(key)
		if !ok {
			m.logger.Warn(fmt.Sprintf("unknown MCP server: %s", key))
			continue
		}
		snippet, err := m.loadSnippet(server)
		if err != nil {
			m.logger.Error(fmt.Sprintf("failed to load config for %s: %v", key, err))
			continue
		}
		if server.RequiresAPIKey() {
			if _, collected := cfg.CollectedAPIKeys[server.APIKeyEnv]; !collected {
				m.logger.Info(fmt.Sprintf("server %s needs the %s API key; it can be set later", key, server.APIKeyEnv))
			}
		}

		var results []MergeResult
		servers, results = MergeServers(servers, snippet, cfg.CollectedAPIKeys)
		for _, r := range results {
			if r.Action == MergeAdded {
				m.logger.Info(fmt.Sprintf("added MCP server %s", r.Server))
			} else {
				m.logger.Info(fmt.Sprintf("kept existing MCP server %s (added keys: %s)", r.Server, strings.Join(r.AddedKeys, ", ")))
			}
		}
		configured++
		applied = append(applied, key)
	}

	if configured == 0 {
		m.logger.Error("no MCP servers were configured")
		return false
	}

	doc = doc.With("mcpServers", servers)
	if err := state.Validate(state.SchemaClaudeConfig, doc); err != nil {
		m.logger.Warn(fmt.Sprintf("%s does not match the expected layout: %v", m.ConfigPath(), err))
	}
	if err := m.saveConfig(doc); err != nil {
		m.logger.Error(err.Error())
		return false
	}

	m.selected = applied
	m.logger.Success(fmt.Sprintf("%d MCP servers configured", configured))
	return m.postInstall(cfg)
}

func (m *MCP) postInstall(InstallConfig) bool {
	servers := append([]string(nil), m.selected...)
	sort.Strings(servers)
	return m.register(map[string]state.Value{
		"servers_configured": state.Int(int64(len(servers))),
		"configured_servers": state.Strings(servers...),
	})
}

// uninstall removes only servers this installer configured and whose entry
// still looks like the shipped template.
func (m *MCP) uninstall() bool {
	defer m.unregister()

	doc, err := m.loadConfig()
	if err != nil {
		m.logger.Warn(fmt.Sprintf("could not read Claude config for cleanup: %v", err))
		return true
	}
	servers, ok := doc.Get("mcpServers")
	if !ok || !servers.IsObject() {
		m.logger.Info("no MCP servers configured")
		return true
	}

	removed := 0
	for _, key := range m.configuredServers() {
		server, known := LookupServer(key)
		if !known {
			continue
		}
		entry, present := servers.Get(server.Name)
		if !present {
			continue
		}
		if !m.isManaged(server, entry) {
			m.logger.Info(fmt.Sprintf("keeping user-customized MCP server %s", server.Name))
			continue
		}
		servers = servers.Without(server.Name)
		removed++
	}

	if removed > 0 {
		if err := m.saveConfig(doc.With("mcpServers", servers)); err != nil {
			m.logger.Warn(fmt.Sprintf("failed to save Claude config: %v", err))
		}
		m.logger.Success(fmt.Sprintf("mcp uninstalled (%d managed servers removed)", removed))
	} else {
		m.logger.Info("mcp uninstalled (no managed servers to remove)")
	}
	return true
}

func (m *MCP) validate() (bool, []string) {
	var errs []string
	if !m.env.State.IsComponentInstalled(m.meta.Name) {
		errs = append(errs, fmt.Sprintf("%s is not registered in %s", m.meta.Name, state.MetadataFile))
	}

	configured := m.configuredServers()
	if len(configured) > 0 {
		doc, err := m.loadConfig()
		if err != nil {
			return false, append(errs, err.Error())
		}
		for _, key := range configured {
			server, ok := LookupServer(key)
			if !ok {
				continue
			}
			if _, found := doc.Lookup("mcpServers", server.Name); !found {
				errs = append(errs, fmt.Sprintf("MCP server %s is missing from %s", server.Name, m.ConfigPath()))
			}
		}
	}
	return len(errs) == 0, errs
}

func (m *MCP) configuredServers() []string {
	v, ok := m.env.State.GetMetadataSetting("components.mcp.configured_servers")
	if !ok {
		return nil
	}
	return v.AsStrings()
}

// isManaged compares an entry with the shipped template: both must define
// command and args, and the commands must match.
func (m *MCP) isManaged(server MCPServer, entry state.Value) bool {
	snippet, err := m.loadSnippet(server)
	if err != nil {
		return false
	}
	template, ok := snippet.Get(server.Name)
	if !ok {
		return false
	}
	for _, key := range []string{"command", "args"} {
		if !entry.Has(key) || !template.Has(key) {
			return false
		}
	}
	got, _ := entry.Get("command")
	want, _ := template.Get("command")
	return got.Equal(want)
}

func (m *MCP) loadSnippet(server MCPServer) (state.Value, error) {
	data, err := os.ReadFile(filepath.Join(m.sourceDir, server.ConfigFile))
	if err != nil {
		return state.Value{}, err
	}
	v, err := state.Parse(data)
	if err != nil {
		return state.Value{}, err
	}
	if !v.IsObject() {
		return state.Value{}, fmt.Errorf("%s does not hold a JSON object", server.ConfigFile)
	}
	return v, nil
}

// loadConfig reads the shared config under a shared lock.
func (m *MCP) loadConfig() (state.Value, error) {
	f, err := os.Open(m.ConfigPath())
	if err != nil {
		return state.Value{}, fmt.Errorf("failed to open Claude config: %w", err)
	}
	defer f.Close()

	var data []byte
	err = withLock(f, false, m.retry, func() error {
		var readErr error
		data, readErr = io.ReadAll(f)
		return readErr
	})
	if err != nil {
		return state.Value{}, fmt.Errorf("failed to read Claude config: %w", err)
	}

	doc, err := state.Parse(data)
	if err != nil {
		return state.Value{}, fmt.Errorf("failed to parse Claude config: %w", err)
	}
	if !doc.IsObject() {
		return state.Value{}, errors.New("Claude config is not a JSON object")
	}
	return doc, nil
}

// saveConfig copies the current document to <path>.backup and rewrites it
// in place under an exclusive lock.
func (m *MCP) saveConfig(doc state.Value) error {
	path := m.ConfigPath()
	if m.env.Files.DryRun() {
		m.logger.Info(fmt.Sprintf("[dry-run] would update %s", path))
		return nil
	}

	if _, err := os.Stat(path); err == nil {
		if _, ok := m.env.Files.BackupFile(path, ".backup"); !ok {
			return fmt.Errorf("failed to back up %s", path)
		}
	}

	data, err := state.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode Claude config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open Claude config: %w", err)
	}
	defer f.Close()

	return withLock(f, true, m.retry, func() error {
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
		return f.Sync()
	})
}
