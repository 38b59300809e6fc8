// Package logger builds the zerolog logger shared by devmemory commands.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	File   string // optional append-only log file
	Pretty bool   // human-readable console output
	Quiet  bool   // drop console output entirely
}

// Logger owns the zerolog logger and the log file handle, if any.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New creates a logger writing to stderr and, when configured, to a file.
// An unknown level falls back to warn.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.WarnLevel
	}

	var writers []io.Writer
	if !cfg.Quiet {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
		writers = append(writers, console)
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("logger: create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{Logger: zl, file: file}, nil
}

// Close releases the log file.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
