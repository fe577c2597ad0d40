// Package output renders command results and status lines for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Format selects how results are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ValidFormats returns the accepted output formats.
func ValidFormats() []string {
	return []string{string(FormatText), string(FormatJSON)}
}

var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
	primaryColor = lipgloss.Color("#A78BFA")

	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	keyStyle     = lipgloss.NewStyle().Foreground(primaryColor)
)

// Printer writes results in one format.
type Printer struct {
	w      io.Writer
	format Format
	// width truncates text lines when positive.
	width int
}

// New returns a printer. Unknown formats fall back to text.
func New(w io.Writer, format Format) *Printer {
	if format != FormatJSON {
		format = FormatText
	}
	return &Printer{w: w, format: format}
}

// WithWidth sets the terminal width used to truncate long text lines.
func (p *Printer) WithWidth(width int) *Printer {
	p.width = width
	return p
}

// Format returns the printer's format.
func (p *Printer) Format() Format {
	return p.format
}

func (p *Printer) line(s string) {
	if p.width > 0 {
		s = Truncate(s, p.width)
	}
	fmt.Fprintln(p.w, s)
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	p.line(successStyle.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.line(warningStyle.Render("!") + " " + fmt.Sprintf(format, args...))
}

// Info prints a muted informational line.
func (p *Printer) Info(format string, args ...any) {
	p.line(mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints err. In JSON mode it is an {"error": ...} object.
func (p *Printer) Error(err error) {
	if p.format == FormatJSON {
		p.json(map[string]string{"error": err.Error()})
		return
	}
	p.line(errorStyle.Render("error:") + " " + err.Error())
}

// Result prints an operation result.
func (p *Printer) Result(v any) {
	if p.format == FormatJSON {
		p.json(v)
		return
	}
	for _, l := range textLines(v) {
		p.line(l)
	}
}

func (p *Printer) json(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(p.w, "%v\n", v)
		return
	}
	fmt.Fprintln(p.w, string(data))
}

// textLines renders v for humans: scalars on one line, lists one item per
// line and maps as sorted "key: value" pairs.
func textLines(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{mutedStyle.Render("(none)")}
	case string:
		return []string{val}
	case []string:
		if len(val) == 0 {
			return []string{mutedStyle.Render("(empty)")}
		}
		return val
	case []any:
		if len(val) == 0 {
			return []string{mutedStyle.Render("(empty)")}
		}
		lines := make([]string, 0, len(val))
		for _, item := range val {
			lines = append(lines, scalar(item))
		}
		return lines
	case []map[string]any:
		if len(val) == 0 {
			return []string{mutedStyle.Render("(empty)")}
		}
		lines := make([]string, 0, len(val))
		for _, item := range val {
			lines = append(lines, scalar(item))
		}
		return lines
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, keyStyle.Render(k+":")+" "+scalar(val[k]))
		}
		return lines
	}
	return []string{scalar(v)}
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case map[string]any, []any, []map[string]any, []string:
		data, err := json.Marshal(val)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

// Truncate shortens s to maxWidth visible columns, adding "..." when cut.
// ANSI escape sequences and wide characters are measured correctly.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// Columns lays out rows as left-aligned columns separated by two spaces.
func Columns(rows [][]string) []string {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			w := lipgloss.Width(cell)
			if i >= len(widths) {
				widths = append(widths, w)
			} else if w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Lines prints pre-rendered lines.
func (p *Printer) Lines(lines []string) {
	for _, l := range lines {
		p.line(l)
	}
}

// Muted renders s in the muted style.
func Muted(s string) string {
	return mutedStyle.Render(s)
}
