// Package diag is the engine's diagnostic sink: every fsck complaint,
// mount-time warning and CLI progress note passes through here so that
// verbosity and color policy live in one place instead of being
// re-decided at every call site.
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	color            = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	prefix string
)

// SetOutput redirects diagnostics, used by tests to capture output.
func SetOutput(w io.Writer) { mu.Lock(); defer mu.Unlock(); out = w }

// SetProgramName sets the prefix printed before every message,
// conventionally the invoking command's name.
func SetProgramName(name string) { mu.Lock(); defer mu.Unlock(); prefix = name }

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// Error reports a problem found during fsck or a mount-time operation:
// printed, never fatal on its own.
func Error(format string, args ...interface{}) {
	emit(colorRed, format, args...)
}

// Warning reports a lesser, advisory problem.
func Warning(format string, args ...interface{}) {
	emit(colorYellow, format, args...)
}

// Notice reports a normal, informational outcome (for example the
// number of problems an fsck run repaired).
func Notice(format string, args ...interface{}) {
	emit("", format, args...)
}

// Fatal reports a fatal operational error and exits non-zero.
func Fatal(format string, args ...interface{}) {
	emit(colorRed, format, args...)
	os.Exit(1)
}

func emit(ansi, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	if color && ansi != "" {
		fmt.Fprintf(out, "%s%s%s\n", ansi, msg, colorReset)
		return
	}
	fmt.Fprintln(out, msg)
}
