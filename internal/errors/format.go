package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

// colorEnabled controls whether ANSI colors are used. It honours NO_COLOR.
var colorEnabled = os.Getenv("NO_COLOR") == ""

// DisableColors disables ANSI color output.
func DisableColors() { colorEnabled = false }

// EnableColors enables ANSI color output.
func EnableColors() { colorEnabled = true }

func color(code, text string) string {
	if !colorEnabled {
		return text
	}
	return code + text + colorReset
}

// Format renders the error for a terminal.
func (e *Error) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	if e.Code != "" {
		b.WriteString(color(colorRed+colorBold, "ERROR "+e.Code+": "))
	} else {
		b.WriteString(color(colorRed+colorBold, "ERROR: "))
	}
	b.WriteString(e.Message)
	b.WriteString("\n\n")

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s\n\n", color(colorCyan, e.Location.String()))
		if len(e.Context) > 0 {
			for i, line := range e.Context {
				n := e.ContextStart + i
				if n != e.Location.Line {
					fmt.Fprintf(&b, "    %4d%s%s\n", n, color(colorGray, " │ "), line)
					continue
				}
				fmt.Fprintf(&b, "  %s%4d%s%s\n", color(colorRed, "→ "), n, color(colorGray, " │ "), line)
				if e.Location.Column > 0 {
					fmt.Fprintf(&b, "        %s%s%s\n", color(colorGray, " │ "),
						strings.Repeat(" ", e.Location.Column-1), color(colorRed, "^"))
				}
			}
			b.WriteString("\n")
		}
	}

	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s\n\n", e.Wrapped.Error())
	}

	for _, line := range wrapText(e.Detail, 70) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	if e.Detail != "" {
		b.WriteString("\n")
	}

	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", color(colorCyan, "Hint: "), e.Suggestion)
	}
	if e.DocURL != "" {
		fmt.Fprintf(&b, "  %s%s\n", color(colorGray, "Learn more: "), color(colorBlue, e.DocURL))
	}
	return b.String()
}

// FormatCompact renders the error on one line.
func (e *Error) FormatCompact() string {
	var b strings.Builder
	if e.Location != nil {
		b.WriteString(e.Location.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Error())
	return b.String()
}

type jsonLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

type jsonError struct {
	Code       string        `json:"code,omitempty"`
	Category   Category      `json:"category,omitempty"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	Cause      string        `json:"cause,omitempty"`
	Location   *jsonLocation `json:"location,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	DocURL     string        `json:"docUrl,omitempty"`
}

// FormatJSON renders the error as a JSON object.
func (e *Error) FormatJSON() string {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
		DocURL:     e.DocURL,
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	if l := e.Location; l != nil {
		out.Location = &jsonLocation{File: l.File, Line: l.Line, Column: l.Column}
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func wrapText(text string, width int) []string {
	if text == "" {
		return nil
	}
	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+len(word)+1 > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

// Fprint writes err to w, formatted when it carries an *Error.
func Fprint(w io.Writer, err error) {
	var e *Error
	if stderrors.As(err, &e) {
		fmt.Fprint(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", color(colorRed+colorBold, "ERROR:"), err)
}
