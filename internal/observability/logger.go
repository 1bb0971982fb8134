// Package observability provides the per-run structured log.
package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// DefaultLogFile is where the run log is appended unless configured otherwise.
const DefaultLogFile = "pdf_convert.log"

// LogConfig holds logger configuration.
type LogConfig struct {
	Level    string
	Format   string // json or console, applies to the console stream
	FilePath string // append-only run log; empty disables the file
	Console  bool
	Output   io.Writer // console stream, defaults to stderr
	Stage    string
	RunID    string
}

// RunLog is the logger of one stage invocation together with the file it appends to.
// It is created at the start of a run and closed at the end; nothing about it is global.
type RunLog struct {
	Logger zerolog.Logger
	path   string
	file   *os.File
}

// OpenRunLog opens (or creates) the log file and builds the logger.
func OpenRunLog(cfg LogConfig) (*RunLog, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var writers []io.Writer
	var file *os.File
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open run log %s: %w", cfg.FilePath, err)
		}
		file = f
		writers = append(writers, f)
	}
	if cfg.Console || len(writers) == 0 {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Format == "json" {
			writers = append(writers, out)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
		}
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Stage != "" {
		zl = zl.With().Str("stage", cfg.Stage).Logger()
	}
	if cfg.RunID != "" {
		zl = zl.With().Str("runId", cfg.RunID).Logger()
	}

	return &RunLog{Logger: zl, path: cfg.FilePath, file: file}, nil
}

// Nop returns a RunLog that discards everything. Handy in tests.
func Nop() *RunLog {
	return &RunLog{Logger: zerolog.Nop()}
}

// Path is the log file path, empty when the run log has no file.
func (r *RunLog) Path() string {
	return r.path
}

// Sync flushes the log file so it can be attached while the run is still going.
func (r *RunLog) Sync() error {
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close releases the log file handle.
func (r *RunLog) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// ParseLevel converts a string level to zerolog.Level. Unknown levels mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
