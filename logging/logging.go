// Package logging builds the slog logger used across the agent. Records go
// to a log file; the console only sees them in verbose mode, and then only
// on stderr so stdout stays reserved for responses and events.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/agentcli/errors"
)

// Disabled is the log file value that turns the file sink off.
const Disabled = "-"

type Options struct {
	// File is the log file path. Empty selects DefaultPath, Disabled turns it off.
	File    string
	Verbose bool
	// Console receives records when Verbose is set. Defaults to os.Stderr.
	Console io.Writer
}

// DefaultPath returns $XDG_STATE_HOME/agentcli/log/<timestamp>.log, falling
// back to ~/.local/state.
func DefaultPath(now time.Time) (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrapf(err, "could not resolve home directory")
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "agentcli", "log", now.Format("2006-01-02T150405")+".log"), nil
}

// Setup returns the logger and a close function for the file sink.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	var handlers []slog.Handler
	closeFn := func() error { return nil }

	if opts.File != Disabled {
		path := opts.File
		if path == "" {
			p, err := DefaultPath(time.Now())
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, errors.Wrapf(err, "could not create log directory")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "could not open log file %s", path)
		}
		closeFn = f.Close
		level := slog.LevelInfo
		if opts.Verbose {
			level = slog.LevelDebug
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	if opts.Verbose {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(console, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if len(handlers) == 0 {
		return Discard(), closeFn, nil
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(fanout(handlers)), closeFn, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
