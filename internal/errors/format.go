package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ANSI color codes for terminal output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorWhite = "\033[37m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

// detailWidth is the column at which details and wrapped causes break.
const detailWidth = 70

var colorEnabled = true

// DisableColors disables ANSI color output.
func DisableColors() {
	colorEnabled = false
}

// EnableColors enables ANSI color output.
func EnableColors() {
	colorEnabled = true
}

func paint(text string, codes ...string) string {
	if !colorEnabled || len(codes) == 0 {
		return text
	}
	return strings.Join(codes, "") + text + colorReset
}

// Format renders the error for a terminal: a headline, the config file
// excerpt around Location, the detail and cause, then the hint.
func (e *Error) Format() string {
	var b strings.Builder
	b.WriteString("\n")
	e.writeHeadline(&b)
	e.writeExcerpt(&b)
	e.writeDetail(&b)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", paint("Hint: ", colorCyan), e.Suggestion)
	}
	return b.String()
}

func (e *Error) writeHeadline(b *strings.Builder) {
	if e.Code == "" {
		b.WriteString(paint("ERROR: ", colorRed, colorBold))
	} else {
		b.WriteString(paint("ERROR ", colorRed, colorBold))
		b.WriteString(paint(e.Code+": ", colorWhite, colorBold))
	}
	b.WriteString(paint(e.Message, colorWhite))
	b.WriteString("\n\n")
}

// writeExcerpt prints the lines around Location with the offending line
// marked and, when the column is known, a caret under it.
func (e *Error) writeExcerpt(b *strings.Builder) {
	if e.Location == nil {
		return
	}
	fmt.Fprintf(b, "  %s\n\n", paint(e.Location.String(), colorCyan))
	if len(e.Context) == 0 {
		return
	}

	bar := paint(" │ ", colorGray)
	first := e.contextStart()
	for i, line := range e.Context {
		n := first + i
		if n != e.Location.Line {
			fmt.Fprintf(b, "    %4d%s%s\n", n, bar, line)
			continue
		}
		fmt.Fprintf(b, "  %s%4d%s%s\n", paint("→ ", colorRed), n, bar, line)
		if col := e.Location.Column; col > 0 {
			fmt.Fprintf(b, "       %s%s%s\n", paint("│ ", colorGray), strings.Repeat(" ", col-1), paint("^", colorRed))
		}
	}
	b.WriteString("\n")
}

func (e *Error) writeDetail(b *strings.Builder) {
	parts := make([]string, 0, 2)
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Wrapped != nil {
		parts = append(parts, e.Wrapped.Error())
	}
	if len(parts) == 0 {
		return
	}
	for _, line := range wrapText(strings.Join(parts, " "), detailWidth) {
		fmt.Fprintf(b, "  %s\n", line)
	}
	b.WriteString("\n")
}

// FormatCompact returns the error on one line, prefixed with its location.
func (e *Error) FormatCompact() string {
	if e.Location == nil {
		return e.Error()
	}
	return e.Location.String() + ": " + e.Error()
}

// wrapText breaks text into lines of at most width bytes at word
// boundaries. A single word longer than width gets its own line.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}

// Print writes err to w. An *Error anywhere in the chain is rendered with
// Format; anything else gets a plain headline.
func Print(w io.Writer, err error) {
	var e *Error
	if errors.As(err, &e) {
		io.WriteString(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", paint("ERROR:", colorRed, colorBold), err)
}
