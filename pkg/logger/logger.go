// Package logger provides the structured logger shared by all overlandd
// components. It wraps logrus behind a small configuration surface so that
// services receive a ready-to-use logger with a component field attached.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls level, format and destination of service logs.
type LoggingConfig struct {
	Level      string
	Format     string // "json" or "text"
	Output     string // "stdout", "stderr" or "file"
	Dir        string // directory for file output
	FilePrefix string // file output name prefix
}

// Logger is a logrus entry with overlandd conveniences attached.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Invalid levels fall back to info;
// a file destination that cannot be opened falls back to stdout so startup
// diagnostics are never lost.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	base.SetOutput(resolveOutput(base, cfg))

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level JSON logger tagged with the component
// name. Services use it when no logger is injected.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	return l.Named(component)
}

// Named returns a logger with the component field set.
func (l *Logger) Named(component string) *Logger {
	if component == "" {
		return l
	}
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// WithContext attaches the trace ID carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	if id := GetTraceID(ctx); id != "" {
		return l.Entry.WithField("trace_id", id)
	}
	return l.Entry
}

// LogRequest emits the standard access-log line for a handled HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}).Info("request handled")
}

func resolveOutput(base *logrus.Logger, cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "overlandd"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		path := filepath.Join(cfg.Dir, name)
		if cfg.Dir != "" {
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				base.WithError(err).Warn("log directory unavailable, falling back to stdout")
				return os.Stdout
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			base.WithError(err).Warn("log file unavailable, falling back to stdout")
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
