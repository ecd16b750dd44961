// Package presenter renders skillgate's CLI output: status messages, tables and
// turn decisions, with color support and a quiet mode.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/jingkaihe/skillgate/pkg/session"
)

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Table(headers []string, rows [][]string)
	Decision(d *session.Decision)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto lets the color package detect terminal support
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output
	ColorAlways
	// ColorNever disables colored output
	ColorNever
)

// New creates a new TerminalPresenter with default settings
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}

	return &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
	}
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLGATE_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error displays an error message to stderr
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a warning message
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays a section header
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	headerColor := color.New(color.Bold)
	headerColor.Fprintf(p.output, "%s\n", title)
	headerColor.Fprintf(p.output, "%s\n", strings.Repeat("-", len(title)))
}

// Table writes rows in aligned columns.
func (p *TerminalPresenter) Table(headers []string, rows [][]string) {
	if p.quiet {
		return
	}

	w := tabwriter.NewWriter(p.output, 0, 0, 2, ' ', 0)
	if len(headers) > 0 {
		fmt.Fprintln(w, strings.Join(headers, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// Decision renders the outcome of a turn.
func (p *TerminalPresenter) Decision(d *session.Decision) {
	if p.quiet || d == nil {
		return
	}

	p.Section(fmt.Sprintf("Turn %d (%s mode)", d.Turn, d.Mode))
	fmt.Fprintf(p.output, "Context weight: %d / %d\n", d.TotalWeight, d.Budget)

	if len(d.Admitted) > 0 {
		rows := make([][]string, 0, len(d.Admitted))
		for _, a := range d.Admitted {
			marker := ""
			if a.New {
				marker = "new"
			}
			rows = append(rows, []string{a.ID, string(a.Layer), fmt.Sprint(a.Weight), marker})
		}
		p.Table([]string{"ADMITTED", "LAYER", "WEIGHT", ""}, rows)
	}

	for _, e := range d.Evicted {
		p.Warning(fmt.Sprintf("evicted %s (%d) for %s: %s", e.ID, e.Weight, e.ForID, e.Reason))
	}
	for _, r := range d.Rejected {
		p.Warning(fmt.Sprintf("rejected %s (%d): %s", r.ID, r.Weight, r.Reason))
	}
	for _, n := range d.Notices {
		p.Info(fmt.Sprintf("note [%s] %s", n.Kind, n.Message))
	}
	for _, v := range d.Violations {
		color.New(color.FgRed).Fprintf(p.output, "✗ violation [%s] %s\n", v.Kind, v.Message)
	}

	if a := d.Authorization; a != nil {
		if a.Allowed {
			p.Success(fmt.Sprintf("%s allowed in %s mode", a.Action, a.Mode))
		} else {
			msg := fmt.Sprintf("%s denied: %s", a.Action, a.Reason)
			if a.Suggested != "" {
				msg += fmt.Sprintf(" (switch to %s", a.Suggested)
				if a.Signal != "" {
					msg += fmt.Sprintf(", %s", a.Signal)
				}
				msg += ")"
			}
			color.New(color.FgRed, color.Bold).Fprintf(p.output, "✗ %s\n", msg)
		}
	}

	if r := d.Report; r != nil {
		for _, c := range r.Checks {
			status := "PASS"
			switch {
			case c.Missing:
				status = "MISSING"
			case !c.Passed:
				status = "FAIL"
			}
			fmt.Fprintf(p.output, "  %-7s %s %s\n", status, c.Name, c.Detail)
		}
	}
}

// Separator displays a visual separator
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error displays an error message using the default presenter instance.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter instance.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning message using the default presenter instance.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter instance.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter instance.
func Section(title string) {
	defaultPresenter.Section(title)
}

// Table writes rows using the default presenter instance.
func Table(headers []string, rows [][]string) {
	defaultPresenter.Table(headers, rows)
}

// Decision renders a turn decision using the default presenter instance.
func Decision(d *session.Decision) {
	defaultPresenter.Decision(d)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
