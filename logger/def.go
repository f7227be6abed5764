// Package logger holds the process-wide zap logger every package logs through.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loggers pairs a logger with its sugared form so both swap together.
type loggers struct {
	log   *zap.Logger
	sugar *zap.SugaredLogger
}

var current atomic.Pointer[loggers]

// Init builds the process logger. mode is "production" (JSON) or
// "development" (console); level is any zap level name and defaults to info.
func Init(mode, level string) error {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "development", "dev":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	setLogger(l)
	return nil
}

// InitProduction is Init with JSON output at info level.
func InitProduction() error {
	return Init("production", "")
}

// InitDevelopment is Init with console output at debug level.
func InitDevelopment() error {
	return Init("development", "")
}

// Use installs an already built logger, e.g. zaptest's in tests.
func Use(l *zap.Logger) {
	setLogger(l)
}

// setLogger also replaces zap's globals, so zap.L() agrees with Log(). The
// outgoing logger is flushed.
func setLogger(l *zap.Logger) {
	zap.ReplaceGlobals(l)
	if prev := current.Swap(&loggers{log: l, sugar: l.Sugar()}); prev != nil {
		_ = prev.log.Sync()
	}
}

// Log never returns nil; before Init it hands out zap's global (a no-op).
func Log() *zap.Logger {
	if c := current.Load(); c != nil {
		return c.log
	}
	return zap.L()
}

// S is Log for printf-style call sites.
func S() *zap.SugaredLogger {
	if c := current.Load(); c != nil {
		return c.sugar
	}
	return zap.S()
}

// Sync flushes buffered entries; main defers it. Errors from syncing a
// terminal are expected and dropped.
func Sync() {
	if c := current.Load(); c != nil {
		_ = c.log.Sync()
	}
}
