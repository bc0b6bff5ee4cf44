// Package logging wraps zap with per-category loggers. The worker writes one
// JSON log file per start date under <data>/logs plus a console stream; the
// SILENT level disables both sinks.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem; every log line carries its category.
type Category string

const (
	CategoryWorker    Category = "worker"
	CategoryStore     Category = "store"
	CategoryIngest    Category = "ingest"
	CategoryHTTP      Category = "http"
	CategorySSE       Category = "sse"
	CategoryEmbedding Category = "embedding"
	CategorySearch    Category = "search"
	CategorySession   Category = "session"
	CategorySummary   Category = "summary"
	CategoryPlugin    Category = "plugin"
	CategoryScheduler Category = "scheduler"
	CategoryBackup    Category = "backup"
	CategoryTransfer  Category = "transfer"
	CategoryTool      Category = "tool"
)

// Config controls the sinks built by Setup.
type Config struct {
	// Level is one of DEBUG, INFO, WARN, ERROR, SILENT (case-insensitive).
	Level string
	// Dir receives kiro-memory-YYYY-MM-DD.log files; empty disables the file
	// sink.
	Dir string
	// Console mirrors log lines to stderr.
	Console bool
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	sugared = map[Category]*zap.SugaredLogger{}
	logFile *os.File
)

// Setup builds the process loggers. Safe to call more than once; the last
// call wins and earlier file handles are closed.
func Setup(cfg Config) error {
	level, silent, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	if silent {
		root = zap.NewNop()
		sugared = map[Category]*zap.SugaredLogger{}
		return nil
	}

	var cores []zapcore.Core

	if cfg.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("kiro-memory-%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(f),
			level,
		))
	}

	if len(cores) == 0 {
		root = zap.NewNop()
	} else {
		root = zap.New(zapcore.NewTee(cores...))
	}
	sugared = map[Category]*zap.SugaredLogger{}
	return nil
}

// Get returns the sugared logger for a category.
func Get(c Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := sugared[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := sugared[c]; ok {
		return l
	}
	l := root.Named(string(c)).Sugar()
	sugared[c] = l
	return l
}

// L returns the structured logger for a category, for hot paths that want
// typed fields.
func L(c Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(string(c))
}

// WithRequestID returns a category logger annotated with a request id.
func WithRequestID(c Category, requestID string) *zap.SugaredLogger {
	return Get(c).With("request_id", requestID)
}

// CloseAll flushes and closes the sinks. Called once at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func parseLevel(s string) (zapcore.Level, bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return zapcore.InfoLevel, false, nil
	case "DEBUG":
		return zapcore.DebugLevel, false, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, false, nil
	case "ERROR":
		return zapcore.ErrorLevel, false, nil
	case "SILENT":
		return zapcore.InfoLevel, true, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("unknown log level %q", s)
	}
}

// Timer measures one operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in a category.
func StartTimer(c Category, op string) *Timer {
	return &Timer{category: c, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.category).Debugw("operation finished", "op", t.op, "duration", d)
	return d
}

// StopWarnOver logs at warn level when the elapsed time exceeds threshold,
// debug otherwise.
func (t *Timer) StopWarnOver(threshold time.Duration) time.Duration {
	d := time.Since(t.start)
	if d > threshold {
		Get(t.category).Warnw("slow operation", "op", t.op, "duration", d, "threshold", threshold)
	} else {
		Get(t.category).Debugw("operation finished", "op", t.op, "duration", d)
	}
	return d
}
