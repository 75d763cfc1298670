package errors

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig Category = "config"
	CategoryCLI    Category = "cli"
)

// Location is a position in a file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as file:line[:column].
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a coded error with an optional location and fix suggestion.
type Error struct {
	// Code is a registered error identifier (e.g., "E101").
	Code string

	Category Category
	Message  string
	Detail   string

	// Location points into the offending file, if any.
	Location *Location

	// Context holds the lines around Location, starting at line
	// ContextStart.
	Context      []string
	ContextStart int

	Suggestion string
	DocURL     string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithLocation points the error at a file position and loads the lines
// around it.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.ContextStart = readContextLines(file, line, 3)
	return e
}

// WithOffset is WithLocation for a byte offset into data, the form in
// which encoding/json reports syntax errors.
func (e *Error) WithOffset(file string, data []byte, offset int64) *Error {
	line, col := 1, 1
	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	e.Location = &Location{File: file, Line: line, Column: col}
	e.Context, e.ContextStart = contextLines(bufio.NewScanner(bytes.NewReader(data)), line, 3)
	return e
}

// WithSuggestion adds a fix suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail replaces the template's explanation.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// Wrap records the underlying error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered code.
func New(code string) *Error {
	t, ok := registry[code]
	if !ok {
		return &Error{Code: code, Message: "Unknown error"}
	}
	return &Error{
		Code:     code,
		Category: t.Category,
		Message:  t.Message,
		Detail:   t.Detail,
		DocURL:   t.DocURL,
	}
}

// Newf creates an uncoded Error.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// FromError returns err if it already is an *Error, otherwise wraps it
// under code.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// readContextLines reads up to size lines centred on line from filename.
func readContextLines(filename string, line, size int) ([]string, int) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0
	}
	defer f.Close()
	return contextLines(bufio.NewScanner(f), line, size)
}

func contextLines(sc *bufio.Scanner, line, size int) ([]string, int) {
	first, last := max(line-size/2, 1), line+size/2
	var lines []string
	for n := 1; sc.Scan(); n++ {
		if n > last {
			break
		}
		if n >= first {
			lines = append(lines, sc.Text())
		}
	}
	return lines, first
}
