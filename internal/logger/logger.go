// Package logger configures the process logger: colored tint output on a
// terminal, logfmt text otherwise.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

var isTerminal = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

// Setup installs the default logger writing to stderr.
func Setup(levelName string) *slog.Logger {
	Level.SetByName(levelName)
	l := New(os.Stderr, isTerminal)
	slog.SetDefault(l)
	return l
}

// New builds a logger on w using the shared Level.
func New(w io.Writer, terminal bool) *slog.Logger {
	if terminal {
		return slog.New(newTerminalHandler(w))
	}
	return slog.New(newTextHandler(w))
}

// Component returns l tagged with a component attribute.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", name))
}
