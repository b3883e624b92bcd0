// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger configured for env. dev (and anything unrecognised) gets
// human-readable text at DEBUG; staging and prod get JSON. When file is set, output
// also goes to a rotating log file.
func New(env, file string) *slog.Logger {
	return slog.New(handler(env, output(os.Stderr, file), slog.LevelDebug))
}

// NewCLI is New for interactive commands: warnings and errors only unless
// verbose is set.
func NewCLI(env, file string, verbose bool) *slog.Logger {
	floor := slog.LevelWarn
	if verbose {
		floor = slog.LevelDebug
	}
	return slog.New(handler(env, output(os.Stderr, file), floor))
}

func output(w io.Writer, file string) io.Writer {
	if file == "" {
		return w
	}
	return io.MultiWriter(w, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})
}

// handler picks the format for env. floor raises the minimum level.
func handler(env string, w io.Writer, floor slog.Level) slog.Handler {
	switch env {
	case "prod", "production":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: max(slog.LevelInfo, floor)})
	case "staging":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: floor})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: floor})
	}
}
