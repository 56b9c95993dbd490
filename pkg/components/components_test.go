package components

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superclaude-org/scinstall/pkg/artifacts"
	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

type fixture struct {
	home    string
	install string
	source  string
	env     Env
	rec     *telemetry.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	f := &fixture{
		home:    home,
		install: filepath.Join(home, security.ProductDirName),
		source:  filepath.Join(t.TempDir(), "SuperClaude"),
		rec:     telemetry.NewRecorder(),
	}

	write(t, filepath.Join(f.source, "Core", "FLAGS.md"), "# flags")
	write(t, filepath.Join(f.source, "Core", "PRINCIPLES.md"), "# principles")
	write(t, filepath.Join(f.source, "Core", "README.md"), "not installed")
	write(t, filepath.Join(f.source, "Modes", "MODE_Brainstorming.md"), "# brainstorm")
	write(t, filepath.Join(f.source, "Modes", "MODE_Introspection.md"), "# introspect")
	write(t, filepath.Join(f.source, "MCP", "MCP_Context7.md"), "# c7")
	write(t, filepath.Join(f.source, "MCP", "MCP_Magic.md"), "# magic")
	write(t, filepath.Join(f.source, "MCP", "configs", "context7.json"),
		`{"context7": {"command": "npx", "args": ["-y", "@upstash/context7-mcp@latest"]}}`)
	write(t, filepath.Join(f.source, "MCP", "configs", "magic.json"),
		`{"magic": {"type": "stdio", "command": "npx", "args": ["@21st-dev/magic"], "env": {"TWENTYFIRST_API_KEY": ""}}}`)

	guard := security.NewGuard(
		security.WithSystemPrefixes("/etc/", "/bin/", "/usr/bin/", "/proc/", "/sys/", "/dev/"),
		security.WithHomeDir(func() (string, error) { return home, nil }),
		security.WithLogger(f.rec),
	)
	f.env = Env{
		InstallDir:       f.install,
		SourceDir:        f.source,
		Version:          "4.0.8",
		ClaudeConfigPath: filepath.Join(home, ".claude.json"),
		Guard:            guard,
		Files:            artifacts.New(guard, f.rec, false),
		State:            state.NewStore(f.install, f.rec),
		Logger:           f.rec,
	}
	return f
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func parse(t *testing.T, doc string) state.Value {
	t.Helper()
	v, err := state.Parse([]byte(doc))
	require.NoError(t, err)
	return v
}

func TestCore_InstallAndUninstall(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)
	core := unit.(*Core)

	assert.Equal(t, []string{"FLAGS.md", "PRINCIPLES.md"}, core.ComponentFiles())
	require.True(t, core.Install(InstallConfig{}))

	assert.FileExists(t, filepath.Join(f.install, "FLAGS.md"))
	assert.NoFileExists(t, filepath.Join(f.install, "README.md"))
	for _, dir := range []string{"commands", "backups", "logs"} {
		assert.DirExists(t, filepath.Join(f.install, dir))
	}

	v, ok := f.env.State.GetComponentVersion("core")
	require.True(t, ok)
	assert.Equal(t, "4.0.8", v)
	fw, ok := f.env.State.GetMetadataSetting("framework.name")
	require.True(t, ok)
	name, _ := fw.AsString()
	assert.Equal(t, "SuperClaude", name)

	claude := read(t, filepath.Join(f.install, ClaudeMDFile))
	assert.Contains(t, claude, "# "+ImportCategoryCore+"\n@FLAGS.md\n@PRINCIPLES.md\n")

	ok, errs := core.ValidateInstallation()
	assert.True(t, ok, errs)

	require.True(t, core.Uninstall())
	assert.NoFileExists(t, filepath.Join(f.install, "FLAGS.md"))
	assert.False(t, f.env.State.IsComponentInstalled("core"))
	_, ok = f.env.State.GetMetadataSetting("framework")
	assert.False(t, ok)
	assert.NotContains(t, read(t, filepath.Join(f.install, ClaudeMDFile)), "@FLAGS.md")
}

func TestUninstall_NotRegisteredRemovesNothing(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)

	// Files on disk without a metadata entry.
	write(t, filepath.Join(f.install, "FLAGS.md"), "left behind")

	assert.True(t, unit.Uninstall())
	assert.True(t, unit.Uninstall())
	assert.FileExists(t, filepath.Join(f.install, "FLAGS.md"))
	assert.True(t, f.rec.Contains("info", "not installed"))
}

func TestCore_UpdateSkipsSameVersion(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)
	require.True(t, unit.Install(InstallConfig{}))

	write(t, filepath.Join(f.install, "FLAGS.md"), "locally edited")
	require.True(t, unit.Update(InstallConfig{UpdateMode: true}))
	assert.Equal(t, "locally edited", read(t, filepath.Join(f.install, "FLAGS.md")))
}

func TestCore_UpdateReplacesFilesAndDropsBackups(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)
	require.True(t, unit.Install(InstallConfig{}))
	require.NoError(t, f.env.State.SetMetadataSetting("components.core.version", state.String("4.0.7")))

	write(t, filepath.Join(f.install, "FLAGS.md"), "old")
	require.True(t, unit.Update(InstallConfig{UpdateMode: true}))

	assert.Equal(t, "# flags", read(t, filepath.Join(f.install, "FLAGS.md")))
	assert.NoFileExists(t, filepath.Join(f.install, "FLAGS.md.backup"))
	v, _ := f.env.State.GetComponentVersion("core")
	assert.Equal(t, "4.0.8", v)
}

func TestCore_UpdateRestoresOnFailure(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)
	require.True(t, unit.Install(InstallConfig{}))
	require.NoError(t, f.env.State.SetMetadataSetting("components.core.version", state.String("4.0.7")))
	write(t, filepath.Join(f.install, "FLAGS.md"), "old")

	// A source file disappearing makes the reinstall fail.
	require.NoError(t, os.Remove(filepath.Join(f.source, "Core", "PRINCIPLES.md")))

	assert.False(t, unit.Update(InstallConfig{UpdateMode: true}))
	assert.Equal(t, "old", read(t, filepath.Join(f.install, "FLAGS.md")))
	assert.NoFileExists(t, filepath.Join(f.install, "FLAGS.md.backup"))
}

func TestInstall_RecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)
	core := unit.(*Core)
	core.installFn = func(InstallConfig) bool { panic("boom") }

	assert.False(t, core.Install(InstallConfig{}))
	assert.True(t, f.rec.Contains("error", "boom"))
}

func TestInstall_MissingSourceDirectory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(f.source, "Modes")))

	unit, err := NewModes(f.env)
	require.NoError(t, err)
	assert.False(t, unit.Install(InstallConfig{}))
	assert.False(t, f.env.State.IsComponentInstalled("modes"))
}

func TestValidatePrerequisites_CollectsErrors(t *testing.T) {
	f := newFixture(t)
	unit, err := NewCore(f.env)
	require.NoError(t, err)
	core := unit.(*Core)
	core.files = append(core.files, "MISSING.md", "tool.exe")

	ok, errs := core.ValidatePrerequisites()
	assert.False(t, ok)
	joined := strings.Join(errs, "\n")
	assert.Contains(t, joined, "MISSING.md")
	assert.Contains(t, joined, "tool.exe")
	assert.DirExists(t, f.install, "target directory is created as a side effect")
}

func TestModes_InstallUsesSubdirectory(t *testing.T) {
	f := newFixture(t)
	unit, err := NewModes(f.env)
	require.NoError(t, err)
	assert.Equal(t, []string{"core"}, unit.Dependencies())

	require.True(t, unit.Install(InstallConfig{}))
	assert.FileExists(t, filepath.Join(f.install, "modes", "MODE_Brainstorming.md"))
	assert.Contains(t, read(t, filepath.Join(f.install, ClaudeMDFile)), "@modes/MODE_Introspection.md")

	require.True(t, unit.Uninstall())
	assert.NoDirExists(t, filepath.Join(f.install, "modes"))
	assert.False(t, f.env.State.IsComponentInstalled("modes"))
}

func TestMCPDocs_EmptySelectionIsNoop(t *testing.T) {
	f := newFixture(t)
	unit, err := NewMCPDocs(f.env)
	require.NoError(t, err)

	require.True(t, unit.Install(InstallConfig{}))
	assert.NoFileExists(t, filepath.Join(f.install, "MCP_Context7.md"))
	assert.True(t, f.env.State.IsComponentInstalled("mcp_docs"))
}

func TestMCPDocs_InstallsSelectedDocs(t *testing.T) {
	f := newFixture(t)
	unit, err := NewMCPDocs(f.env)
	require.NoError(t, err)

	// serena has no documentation in the fixture and is skipped.
	require.True(t, unit.Install(InstallConfig{SelectedMCPServers: []string{"context7", "serena"}}))
	assert.FileExists(t, filepath.Join(f.install, "MCP_Context7.md"))
	assert.NoFileExists(t, filepath.Join(f.install, "MCP_Magic.md"))
	assert.Contains(t, read(t, filepath.Join(f.install, ClaudeMDFile)), "# "+ImportCategoryMCP+"\n@MCP_Context7.md")

	require.True(t, unit.Uninstall())
	assert.NoFileExists(t, filepath.Join(f.install, "MCP_Context7.md"))
}

func TestMCP_InstallMergesAndUninstallRemovesManaged(t *testing.T) {
	f := newFixture(t)
	write(t, f.env.ClaudeConfigPath, `{
  "numStartups": 3,
  "mcpServers": {
    "context7": {"command": "bunx", "args": ["context7"], "disabled": true},
    "mine": {"command": "my-server"}
  }
}`)

	unit, err := NewMCP(f.env)
	require.NoError(t, err)
	cfg := InstallConfig{
		SelectedMCPServers: []string{"context7", "magic", "nope"},
		CollectedAPIKeys:   map[string]string{"TWENTYFIRST_API_KEY": "sk-secret"},
	}
	require.True(t, unit.Install(cfg))

	raw := read(t, f.env.ClaudeConfigPath)
	assert.NotContains(t, raw, "sk-secret")
	assert.FileExists(t, f.env.ClaudeConfigPath+".backup")

	doc := parse(t, raw)
	c7, _ := doc.Lookup("mcpServers", "context7")
	assert.True(t, parse(t, `{"command": "bunx", "args": ["context7"], "disabled": true}`).Equal(c7))

	key, ok := doc.Lookup("mcpServers", "magic", "env", "TWENTYFIRST_API_KEY")
	require.True(t, ok)
	s, _ := key.AsString()
	assert.Equal(t, "${TWENTYFIRST_API_KEY}", s)

	n, _ := doc.Get("numStartups")
	i, _ := n.AsInt()
	assert.Equal(t, int64(3), i)

	configured, ok := f.env.State.GetMetadataSetting("components.mcp.configured_servers")
	require.True(t, ok)
	assert.Equal(t, []string{"context7", "magic"}, configured.AsStrings())

	ok, errs := unit.ValidateInstallation()
	assert.True(t, ok, errs)

	require.True(t, unit.Uninstall())
	doc = parse(t, read(t, f.env.ClaudeConfigPath))
	_, ok = doc.Lookup("mcpServers", "magic")
	assert.False(t, ok, "managed server is removed")
	_, ok = doc.Lookup("mcpServers", "context7")
	assert.True(t, ok, "customized server is kept")
	_, ok = doc.Lookup("mcpServers", "mine")
	assert.True(t, ok)
	assert.False(t, f.env.State.IsComponentInstalled("mcp"))
}

func TestMCP_RequiresClaudeConfig(t *testing.T) {
	f := newFixture(t)
	unit, err := NewMCP(f.env)
	require.NoError(t, err)

	assert.False(t, unit.Install(InstallConfig{SelectedMCPServers: []string{"context7"}}))
	assert.True(t, f.rec.Contains("error", "Claude config file not found"))
	assert.NoFileExists(t, f.env.ClaudeConfigPath)
}

func TestMCP_EmptySelectionDoesNotNeedConfig(t *testing.T) {
	f := newFixture(t)
	unit, err := NewMCP(f.env)
	require.NoError(t, err)

	assert.True(t, unit.Install(InstallConfig{}))
	assert.True(t, f.env.State.IsComponentInstalled("mcp"))
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for _, reg := range Catalog() {
		unit, err := reg.Factory(f.env)
		require.NoError(t, err)
		assert.Equal(t, reg.Name, unit.Metadata().Name)
		assert.Equal(t, "4.0.8", unit.Metadata().Version)
		seen[reg.Name] = true
	}
	assert.Len(t, seen, 4)
}
