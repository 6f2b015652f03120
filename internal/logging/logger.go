package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"whisperd/internal/config"
)

// Supported log formats.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Writer receives the primary stream. Defaults to os.Stderr.
	Writer io.Writer
	// FilePath, when set, receives a JSON copy of every record.
	FilePath    string
	RunID       string
	Development bool
}

// New constructs a slog logger using the provided options. The returned
// closer releases the log file, if one was opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	addSource := opts.Development || level <= slog.LevelDebug

	var primary slog.Handler
	switch resolveFormat(opts.Format, writer) {
	case FormatJSON:
		primary = newJSONHandler(writer, levelVar, addSource)
	case FormatConsole:
		primary = newPrettyHandler(writer, levelVar, addSource)
	default:
		return nil, nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	handler := primary
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		file, err := openLogFile(path)
		if err != nil {
			return nil, nil, err
		}
		closer = file
		handler = newFanoutHandler(primary, newJSONHandler(file, levelVar, addSource))
	}
	if opts.RunID != "" {
		handler = newRunIDHandler(handler, opts.RunID)
	}
	return slog.New(handler), closer, nil
}

// NewFromConfig creates the daemon logger from the logging section. When
// runID is non-empty a JSON log file named after it is written under
// logging.dir.
func NewFromConfig(cfg *config.Config, runID string) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: FormatAuto})
	}
	opts := Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		RunID:  runID,
	}
	if cfg.Logging.Dir != "" && runID != "" {
		opts.FilePath = filepath.Join(cfg.Logging.Dir, LogFileName(runID))
	}
	return New(opts)
}

// LogFileName returns the per-run log file name for runID.
func LogFileName(runID string) string {
	return "whisperd-" + runID + ".log"
}

// LogFilePattern matches the files produced by LogFileName.
const LogFilePattern = "whisperd-*.log"

func resolveFormat(format string, w io.Writer) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", FormatAuto:
		if isTerminal(w) {
			return FormatConsole
		}
		return FormatJSON
	default:
		return f
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
