package components

import (
	"os"
	"path/filepath"

	"github.com/superclaude-org/scinstall/pkg/artifacts"
	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
	"github.com/superclaude-org/scinstall/pkg/version"
)

// Categories used by the built-in units.
const (
	CategoryCore          = "core"
	CategoryModes         = "modes"
	CategoryIntegration   = "integration"
	CategoryDocumentation = "documentation"
)

// Metadata describes a unit.
type Metadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (m Metadata) String() string {
	return m.Name + " v" + m.Version
}

// InstallConfig carries per-run options into Install and Update.
type InstallConfig struct {
	DryRun     bool
	Force      bool
	UpdateMode bool

	// SelectedMCPServers are server keys such as "context7" or "magic".
	SelectedMCPServers []string
	// CollectedAPIKeys maps environment variable names to secrets the user
	// entered. Only the names are written to shared config documents.
	CollectedAPIKeys map[string]string
}

// Env holds what a unit needs to operate. It is shared by every unit built
// for one run.
type Env struct {
	InstallDir string
	// SourceDir is the root of the artifact tree (Core, Modes, MCP, ...).
	SourceDir string
	Version   string
	// ClaudeConfigPath is the shared integration config document.
	ClaudeConfigPath string

	Guard  *security.Guard
	Files  *artifacts.Store
	State  *state.Store
	Logger telemetry.Logger
}

// withDefaults fills unset fields.
func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = telemetry.Nop()
	}
	if e.Version == "" {
		e.Version = version.Framework
	}
	if e.Guard == nil {
		e.Guard = security.NewGuard(security.WithLogger(e.Logger))
	}
	if e.Files == nil {
		e.Files = artifacts.New(e.Guard, e.Logger, false)
	}
	if e.State == nil {
		e.State = state.NewStore(e.InstallDir, e.Logger)
	}
	if e.ClaudeConfigPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			e.ClaudeConfigPath = filepath.Join(home, ".claude.json")
		}
	}
	return e
}

// Unit is an installable component.
type Unit interface {
	Metadata() Metadata
	Dependencies() []string
	FilesToInstall() []security.FilePair
	ValidatePrerequisites() (bool, []string)
	Install(cfg InstallConfig) bool
	Uninstall() bool
	Update(cfg InstallConfig) bool
	ValidateInstallation() (bool, []string)
	SizeEstimate() int64
}

// Configurable is implemented by units whose prerequisites depend on the
// run's options. The installer calls Configure before checking them.
type Configurable interface {
	Configure(cfg InstallConfig)
}
