// Package logging builds the daemon's root hclog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/lumen/internal/config"
)

// Name is the root logger name.
const Name = "lumen"

// Logger is a root logger and the file it writes to, if any.
type Logger struct {
	hclog.Logger
	file *os.File
}

// Close closes the log file. It is a no-op for stderr logging.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// New creates the root logger from cfg. Logs go to cfg.File when set
// (appending, without color), otherwise to stderr.
func New(cfg config.LoggingConfig) (*Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LoggingConfig, stderr io.Writer) (*Logger, error) {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &hclog.LoggerOptions{
		Name:       Name,
		Level:      level,
		JSONFormat: cfg.JSON,
		Output:     stderr,
		Color:      hclog.AutoColor,
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		opts.Output = f
		opts.Color = hclog.ColorOff
	}
	if cfg.JSON {
		opts.Color = hclog.ColorOff
	}

	return &Logger{Logger: hclog.New(opts), file: file}, nil
}
