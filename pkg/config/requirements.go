package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/superclaude-org/scinstall/pkg/version"
)

//go:embed requirements.yaml
var defaultRequirements []byte

// ToolTimeout bounds a single tool version probe.
const ToolTimeout = 10 * time.Second

// Requirements are the system prerequisites of an installation.
type Requirements struct {
	// DiskSpaceMB is the free space required on the target filesystem.
	DiskSpaceMB int64 `yaml:"disk_space_mb" validate:"gte=1"`

	// ExternalTools are commands some components need at runtime.
	ExternalTools map[string]ToolRequirement `yaml:"external_tools" validate:"dive"`
}

// ToolRequirement describes one external command.
type ToolRequirement struct {
	// Command prints the tool's version, e.g. "node --version".
	Command    string `yaml:"command" validate:"required"`
	MinVersion string `yaml:"min_version" validate:"omitempty,semver"`
	Optional   bool   `yaml:"optional"`
	// RequiredFor lists the components needing the tool. Empty means
	// every installation.
	RequiredFor []string `yaml:"required_for"`
}

// DefaultRequirements returns the embedded requirements.
func DefaultRequirements() (*Requirements, error) {
	return ParseRequirements(defaultRequirements)
}

// LoadRequirements reads requirements from path.
func LoadRequirements(path string) (*Requirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requirements: %w", err)
	}
	return ParseRequirements(data)
}

// ParseRequirements decodes and validates YAML requirements.
func ParseRequirements(data []byte) (*Requirements, error) {
	var req Requirements
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("parse requirements: %w", err)
	}
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid requirements: %w", err)
	}
	return &req, nil
}

// ToolsFor returns the names of the tools needed by any of components,
// sorted.
func (r *Requirements) ToolsFor(components []string) []string {
	wanted := make(map[string]bool, len(components))
	for _, c := range components {
		wanted[c] = true
	}
	var names []string
	for name, tool := range r.ExternalTools {
		if len(tool.RequiredFor) == 0 {
			names = append(names, name)
			continue
		}
		for _, c := range tool.RequiredFor {
			if wanted[c] {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Probe runs a version command and returns its output.
type Probe func(ctx context.Context, name string, args ...string) (string, error)

// ExecProbe runs the command if it is on PATH.
func ExecProbe(ctx context.Context, name string, args ...string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	ctx, cancel := context.WithTimeout(ctx, ToolTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}

// ToolResult is the outcome of one tool check.
type ToolResult struct {
	Name     string
	Version  string
	Optional bool
	Err      error
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// CheckTools probes every tool needed by components. It returns all
// results and the errors of the required tools that failed.
func (r *Requirements) CheckTools(ctx context.Context, components []string, probe Probe) ([]ToolResult, []string) {
	if probe == nil {
		probe = ExecProbe
	}
	var results []ToolResult
	var errs []string
	for _, name := range r.ToolsFor(components) {
		tool := r.ExternalTools[name]
		res := ToolResult{Name: name, Optional: tool.Optional}
		res.Version, res.Err = checkTool(ctx, tool, probe)
		results = append(results, res)
		if res.Err != nil && !tool.Optional {
			errs = append(errs, fmt.Sprintf("%s: %v", name, res.Err))
		}
	}
	return results, errs
}

func checkTool(ctx context.Context, tool ToolRequirement, probe Probe) (string, error) {
	fields := strings.Fields(tool.Command)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}
	out, err := probe(ctx, fields[0], fields[1:]...)
	if err != nil {
		return "", err
	}
	found := versionPattern.FindString(out)
	if tool.MinVersion == "" {
		return found, nil
	}
	if found == "" {
		return "", fmt.Errorf("could not determine version from %q", strings.TrimSpace(out))
	}
	ok, err := version.Satisfies(found, ">="+tool.MinVersion)
	if err != nil {
		return found, err
	}
	if !ok {
		return found, fmt.Errorf("version %s found, %s or newer required", found, tool.MinVersion)
	}
	return found, nil
}
