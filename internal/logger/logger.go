package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/retinascope/internal/env"
)

const (
	defaultLogFile    = "logs/retinascope.log"
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 28
)

type options struct {
	level      *slog.Level
	console    io.Writer
	logFile    string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	logToFile  bool
	compress   bool
}

// Option configures the logger.
type Option func(*options)

// WithLogToFile enables writing logs to a rotating file in addition to the console.
func WithLogToFile(enabled bool) Option {
	return func(o *options) {
		o.logToFile = enabled
	}
}

// WithLogFile sets the path of the rotating log file.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
	}
}

// WithRotation sets the rotation limits of the log file.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int, compress bool) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
		o.compress = compress
	}
}

// WithLevel overrides the level derived from the environment.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = &level
	}
}

// WithConsole sets the console writer. Defaults to os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

// New creates a logger for the given environment.
//
// Development logs go to a colored tint handler at debug level, production logs
// are JSON at info level. With WithLogToFile the records are also written as
// JSON into a lumberjack rotated file.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &options{
		console:    os.Stderr,
		logFile:    defaultLogFile,
		maxSizeMB:  defaultMaxSizeMB,
		maxBackups: defaultMaxBackups,
		maxAgeDays: defaultMaxAgeDays,
	}
	for _, opt := range opts {
		opt(o)
	}

	level := slog.LevelDebug
	if environment.IsProduction() {
		level = slog.LevelInfo
	}
	if o.level != nil {
		level = *o.level
	}

	var console slog.Handler
	if environment.IsProduction() {
		console = slog.NewJSONHandler(o.console, &slog.HandlerOptions{Level: level})
	} else {
		console = tint.NewHandler(o.console, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    environment == env.Test,
		})
	}

	if !o.logToFile {
		return slog.New(console)
	}

	if dir := filepath.Dir(o.logFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.New(console).Warn("Failed to create log directory, logging to console only", "dir", dir, "error", err)
			return slog.New(console)
		}
	}

	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		MaxAge:     o.maxAgeDays,
		Compress:   o.compress,
	}, &slog.HandlerOptions{Level: level})

	return slog.New(fanout{console, file})
}
