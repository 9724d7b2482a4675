// Package logging builds the structured loggers used across rapport.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text, json, logfmt (default: text)
	Caller bool
	Output io.Writer // default: os.Stderr
}

// New creates the base logger for the process.
func New(cfg Config) *log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = log.InfoLevel
	}

	opts := log.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    cfg.Caller,
		TimeFormat:      time.RFC3339,
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		opts.Formatter = log.TextFormatter
	}

	return log.NewWithOptions(out, opts)
}

// Component returns a child of base prefixed with the component name.
// A nil base falls back to the package default logger.
func Component(base *log.Logger, name string) *log.Logger {
	if base == nil {
		base = log.Default()
	}
	return base.WithPrefix(name)
}

// Discard returns a logger that writes nowhere. Useful in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
