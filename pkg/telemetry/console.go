package telemetry

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Console palette.
var (
	ColorAccent  = lipgloss.Color("#7D56F4")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6C7A89")
)

// Styles holds the lipgloss styles used for console output.
type Styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Box     lipgloss.Style
}

// NewStyles builds the console styles. With noColor every style renders
// plain text.
func NewStyles(noColor bool) Styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return Styles{
			Title: plain, Bold: plain, Muted: plain, Success: plain,
			Warning: plain, Error: plain, Info: plain, Box: plain,
		}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
		Bold:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
		Success: lipgloss.NewStyle().Bold(true).Foreground(ColorSuccess),
		Warning: lipgloss.NewStyle().Bold(true).Foreground(ColorWarning),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(ColorError),
		Info:    lipgloss.NewStyle().Foreground(ColorAccent),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1),
	}
}

// Level renders a zerolog level name as a fixed-width styled label.
func (s Styles) Level(level string) string {
	switch level {
	case "debug":
		return s.Muted.Render("DBG")
	case "info":
		return s.Info.Render("INF")
	case "warn":
		return s.Warning.Render("WRN")
	case "error", "fatal", "panic":
		return s.Error.Render("ERR")
	case successField:
		return s.Success.Render(" OK")
	default:
		return strings.ToUpper(level)
	}
}

// Console writes user-facing output such as headers and run summaries.
// Quiet suppresses everything except errors.
type Console struct {
	out    io.Writer
	styles Styles
	quiet  bool
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer, noColor, quiet bool) *Console {
	return &Console{
		out:    out,
		styles: NewStyles(noColor),
		quiet:  quiet,
	}
}

// Styles returns the console styles.
func (c *Console) Styles() Styles {
	return c.styles
}

// Header prints a boxed title.
func (c *Console) Header(title, subtitle string) {
	if c.quiet {
		return
	}
	body := c.styles.Title.Render(title)
	if subtitle != "" {
		body += "\n" + c.styles.Muted.Render(subtitle)
	}
	fmt.Fprintln(c.out, c.styles.Box.Render(body))
}

// Success prints a success line.
func (c *Console) Success(format string, args ...interface{}) {
	c.line(c.styles.Success, "✓", format, args...)
}

// Info prints an informational line.
func (c *Console) Info(format string, args ...interface{}) {
	c.line(c.styles.Info, "•", format, args...)
}

// Warning prints a warning line.
func (c *Console) Warning(format string, args ...interface{}) {
	c.line(c.styles.Warning, "!", format, args...)
}

// Error prints an error line. Errors are shown even in quiet mode.
func (c *Console) Error(format string, args ...interface{}) {
	fmt.Fprintf(c.out, "%s %s\n", c.styles.Error.Render("✗"), fmt.Sprintf(format, args...))
}

// Println prints a plain line.
func (c *Console) Println(format string, args ...interface{}) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) line(style lipgloss.Style, icon, format string, args ...interface{}) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", style.Render(icon), fmt.Sprintf(format, args...))
}
