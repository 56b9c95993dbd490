package components

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// ClaudeMDFile is the entry document that imports framework files.
const ClaudeMDFile = "CLAUDE.md"

// Import categories written by the built-in units.
const (
	ImportCategoryCore  = "Core Framework"
	ImportCategoryModes = "Behavioral Modes"
	ImportCategoryMCP   = "MCP Documentation"
)

const (
	frameworkRule   = "# ═══════════════════════════════════════════════════"
	frameworkHeader = "# SuperClaude Framework Components"
	frameworkMarker = frameworkRule + "\n" + frameworkHeader
)

const defaultClaudeMD = `# SuperClaude Entry Point

This file is the entry point for the SuperClaude framework.
Add your own instructions and settings here.

SuperClaude framework components are imported automatically below.
`

var importLine = regexp.MustCompile(`(?m)^@(\S+\.md)\s*$`)

// ClaudeMD maintains the framework import section of CLAUDE.md. Content
// above the section belongs to the user and is kept as is.
type ClaudeMD struct {
	path   string
	guard  *security.Guard
	logger telemetry.Logger
}

// NewClaudeMD manages CLAUDE.md inside installDir.
func NewClaudeMD(installDir string, guard *security.Guard, logger telemetry.Logger) *ClaudeMD {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &ClaudeMD{
		path:   filepath.Join(installDir, ClaudeMDFile),
		guard:  guard,
		logger: logger,
	}
}

// Path returns the managed file.
func (c *ClaudeMD) Path() string { return c.path }

// Imports returns every file imported anywhere in the document.
func (c *ClaudeMD) Imports() map[string]bool {
	out := map[string]bool{}
	content, err := c.read()
	if err != nil {
		return out
	}
	for _, m := range importLine.FindAllStringSubmatch(content, -1) {
		out[m[1]] = true
	}
	return out
}

// EnsureExists writes a default document when none exists.
func (c *ClaudeMD) EnsureExists() error {
	if _, err := os.Stat(c.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(c.path), err)
	}
	if err := c.write(defaultClaudeMD); err != nil {
		return err
	}
	c.logger.Info("created CLAUDE.md with default content")
	return nil
}

// AddImports adds files that are not yet imported under category.
func (c *ClaudeMD) AddImports(files []string, category string) error {
	if err := c.EnsureExists(); err != nil {
		return err
	}
	content, err := c.read()
	if err != nil {
		return err
	}

	existing := c.Imports()
	var added []string
	for _, f := range files {
		if !existing[f] {
			added = append(added, f)
			existing[f] = true
		}
	}
	if len(added) == 0 {
		c.logger.Debug("all files already imported in CLAUDE.md")
		return nil
	}

	sections := parseSections(content)
	sections = sections.add(category, added)

	if err := c.write(render(userContent(content), sections)); err != nil {
		return err
	}
	c.logger.Info(fmt.Sprintf("added %d imports to CLAUDE.md under %q", len(added), category))
	return nil
}

// RemoveImports drops files from every category. Categories left empty are
// removed.
func (c *ClaudeMD) RemoveImports(files []string) error {
	content, err := c.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(files))
	for _, f := range files {
		drop[f] = true
	}

	sections := parseSections(content)
	kept := sections[:0]
	removed := 0
	for _, s := range sections {
		var remaining []string
		for _, f := range s.files {
			if drop[f] {
				removed++
				continue
			}
			remaining = append(remaining, f)
		}
		if len(remaining) > 0 {
			kept = append(kept, importSection{name: s.name, files: remaining})
		}
	}
	if removed == 0 {
		return nil
	}

	if err := c.write(render(userContent(content), kept)); err != nil {
		return err
	}
	c.logger.Info(fmt.Sprintf("removed %d imports from CLAUDE.md", removed))
	return nil
}

func (c *ClaudeMD) read() (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *ClaudeMD) write(content string) error {
	if c.guard != nil {
		if ok, reason := c.guard.Validate(c.path, ""); !ok {
			return fmt.Errorf("refusing to write %s: %s", c.path, reason)
		}
	}
	if err := os.WriteFile(c.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	return nil
}

type importSection struct {
	name  string
	files []string
}

type importSections []importSection

func (ss importSections) add(category string, files []string) importSections {
	for i := range ss {
		if ss[i].name == category {
			ss[i].files = append(ss[i].files, files...)
			return ss
		}
	}
	return append(ss, importSection{name: category, files: files})
}

// userContent returns everything before the framework section.
func userContent(content string) string {
	if i := strings.Index(content, frameworkMarker); i >= 0 {
		content = content[:i]
	}
	return strings.TrimRight(content, " \t\r\n")
}

// parseSections reads the category headers and imports of the framework
// section, in document order.
func parseSections(content string) importSections {
	i := strings.Index(content, frameworkMarker)
	if i < 0 {
		return nil
	}

	var sections importSections
	current := -1
	for _, line := range strings.Split(content[i+len(frameworkMarker):], "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "# ═══"):
		case strings.HasPrefix(line, "# "):
			name := strings.TrimSpace(line[2:])
			current = -1
			for j := range sections {
				if sections[j].name == name {
					current = j
				}
			}
			if current < 0 {
				sections = append(sections, importSection{name: name})
				current = len(sections) - 1
			}
		case strings.HasPrefix(line, "@") && current >= 0:
			f := strings.TrimSpace(line[1:])
			if !contains(sections[current].files, f) {
				sections[current].files = append(sections[current].files, f)
			}
		}
	}
	return sections
}

func render(user string, sections importSections) string {
	var b strings.Builder
	if strings.TrimSpace(user) != "" {
		b.WriteString(user)
		b.WriteString("\n\n")
	}
	if len(sections) == 0 {
		return b.String()
	}

	b.WriteString(frameworkRule + "\n")
	b.WriteString(frameworkHeader + "\n")
	b.WriteString(frameworkRule + "\n\n")
	for _, s := range sections {
		if len(s.files) == 0 {
			continue
		}
		files := append([]string(nil), s.files...)
		sort.Strings(files)
		b.WriteString("# " + s.name + "\n")
		for _, f := range files {
			b.WriteString("@" + f + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
