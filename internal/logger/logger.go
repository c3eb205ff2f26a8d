// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps a zap sugared logger behind package-level printf-style helpers so callers never
// have to thread a logger through the pipeline.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance. Nop until Init is called so tests stay quiet.
	base    = zap.NewNop()
	sugared = base.Sugar()
)

// parseLevel maps a config level name to a zap level
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
// "json" selects the production encoder, anything else a console encoder.
func Init(level string, format string) error {
	var cfg zap.Config
	if strings.ToLower(format) == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	base = l
	sugared = l.Sugar()
	return nil
}

// Zap returns the underlying structured logger without the helper caller skip
func Zap() *zap.Logger {
	return base.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes any buffered log entries
func Sync() {
	_ = base.Sync()
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	sugared.Debugf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	sugared.Infof(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	sugared.Warnf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	sugared.Errorf(format, args...)
}

// Fatal logs a message and exits
func Fatal(format string, args ...interface{}) {
	sugared.Fatalf(format, args...)
}
