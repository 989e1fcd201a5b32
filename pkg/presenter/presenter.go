// Package presenter renders user-facing CLI output: status lines, provider
// tables and coloured diffs. Library code logs; commands present.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Presenter is the CLI output surface used by the enhancer commands.
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Table(headers []string, rows [][]string)
	Diff(unified string)
	Confirm(question string) bool
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// ColorMode controls whether output is coloured.
type ColorMode int

const (
	// ColorAuto leaves detection to the color package.
	ColorAuto ColorMode = iota
	// ColorAlways forces colour.
	ColorAlways
	// ColorNever disables colour.
	ColorNever
)

// TerminalPresenter writes to a terminal or any pair of writers.
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	input       io.Reader
	quiet       bool
}

// New creates a TerminalPresenter on stdout and stderr.
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with explicit writers and colour mode.
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
		input:       os.Stdin,
	}
}

// SetInput replaces the reader Confirm reads answers from.
func (p *TerminalPresenter) SetInput(r io.Reader) {
	p.input = r
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch os.Getenv("ENHANCER_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error writes err to stderr. Errors are shown even in quiet mode.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	c := color.New(color.FgRed, color.Bold)
	if context != "" {
		c.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
		return
	}
	c.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
}

func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, message)
}

// Section prints an underlined heading.
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}
	c := color.New(color.Bold)
	c.Fprintln(p.output, title)
	c.Fprintln(p.output, strings.Repeat("-", len(title)))
}

// Table prints rows aligned under bold headers.
func (p *TerminalPresenter) Table(headers []string, rows [][]string) {
	if p.quiet {
		return
	}

	w := tabwriter.NewWriter(p.output, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold).SprintFunc()
	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = bold(h)
	}
	fmt.Fprintln(w, strings.Join(styled, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// Diff prints a unified diff with added lines in green and removed lines in red.
func (p *TerminalPresenter) Diff(unified string) {
	if unified == "" {
		return
	}

	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	hunk := color.New(color.FgCyan)
	for _, line := range strings.SplitAfter(unified, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			color.New(color.Bold).Fprint(p.output, line)
		case strings.HasPrefix(line, "@@"):
			hunk.Fprint(p.output, line)
		case strings.HasPrefix(line, "+"):
			added.Fprint(p.output, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprint(p.output, line)
		default:
			fmt.Fprint(p.output, line)
		}
	}
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *TerminalPresenter) Confirm(question string) bool {
	color.New(color.FgCyan).Fprintf(p.output, "%s [y/N]: ", question)

	answer, err := bufio.NewReader(p.input).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Default returns the process-wide presenter the package functions use.
func Default() *TerminalPresenter {
	return defaultPresenter
}

func Error(err error, context string)         { defaultPresenter.Error(err, context) }
func Success(message string)                  { defaultPresenter.Success(message) }
func Warning(message string)                  { defaultPresenter.Warning(message) }
func Info(message string)                     { defaultPresenter.Info(message) }
func Section(title string)                    { defaultPresenter.Section(title) }
func Table(headers []string, rows [][]string) { defaultPresenter.Table(headers, rows) }
func Diff(unified string)                     { defaultPresenter.Diff(unified) }
func Confirm(question string) bool            { return defaultPresenter.Confirm(question) }
func SetQuiet(quiet bool)                     { defaultPresenter.SetQuiet(quiet) }
func IsQuiet() bool                           { return defaultPresenter.IsQuiet() }
