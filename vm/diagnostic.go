package vm

import (
	"errors"
	"fmt"
)

// Diagnostic is the single error type raised by the compiler, the VM, the
// modules and the bytecode reader. Line and Column are 1-based.
type Diagnostic struct {
	Line    int
	Column  int
	Source  string
	Message string

	// Err is an optional cause, such as a bytecode format sentinel.
	Err error
}

// NewDiagnostic builds a diagnostic. Columns below 1 are clamped to 1.
func NewDiagnostic(line, col int, source, message string) *Diagnostic {
	if col < 1 {
		col = 1
	}
	return &Diagnostic{Line: line, Column: col, Source: source, Message: message}
}

// Errorf builds a diagnostic with a formatted message.
func Errorf(line, col int, source, format string, args ...any) *Diagnostic {
	return NewDiagnostic(line, col, source, fmt.Sprintf(format, args...))
}

func (d *Diagnostic) Error() string {
	if d.Line <= 0 {
		return d.Message
	}
	return fmt.Sprintf("line %d, col %d: %s", d.Line, d.Column, d.Message)
}

func (d *Diagnostic) Unwrap() error {
	return d.Err
}

// AsDiagnostic extracts a *Diagnostic from err's chain.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// atSite converts any error into a diagnostic positioned at site, keeping
// existing diagnostics untouched.
func atSite(site Site, err error) *Diagnostic {
	if d, ok := AsDiagnostic(err); ok {
		return d
	}
	d := site.Errorf("Runtime error: %v", err)
	d.Err = err
	return d
}
