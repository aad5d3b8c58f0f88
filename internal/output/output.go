// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out io.Writer
}

// New creates a Writer over out.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Write errors are ignored throughout; console output failures are not
// actionable.

// Info prints a plain status line.
func (w *Writer) Info(msg string) {
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Infof prints a formatted status line.
func (w *Writer) Infof(format string, args ...any) {
	w.Info(fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, " ✓ %s\n", msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, " ! %s\n", msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, " ✗ %s\n", msg)
}

// Result prints a numbered, scored search result with an indented
// snippet.
func (w *Writer) Result(n int, score float64, text string) {
	_, _ = fmt.Fprintf(w.out, "%2d. %.4f  %s\n", n, score, text)
}

// Block prints multi-line content indented under the current line.
func (w *Writer) Block(content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "    %s\n", line)
	}
}

// Newline prints a blank line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
