// Package logger builds the zap loggers used across the simulation.
package logger

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds configuration for the logger
type Config struct {
	// Environment is "production" for JSON output or "development" for console output.
	Environment string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// ServiceName is attached to every entry.
	ServiceName string
	// RunID is attached to every entry when set.
	RunID string
}

// New creates a new logger with the given configuration.
//
// Parameters:
//   - cfg: the logger configuration; empty fields take development / info defaults
//
// Returns:
//   - *zap.Logger: the logger
//   - error: an error if the level is unknown or the logger cannot be built
func New(cfg Config) (*zap.Logger, error) {
	cfg.Environment = common.Coalesce(cfg.Environment, "development")
	cfg.LogLevel = common.Coalesce(cfg.LogLevel, "info")
	cfg.ServiceName = common.Coalesce(cfg.ServiceName, "oxy-particles")
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := "json"
	if cfg.Environment == "development" {
		encoding = "console"
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Environment == "development",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	fields := []zap.Field{
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
	}
	if cfg.RunID != "" {
		fields = append(fields, zap.String("run_id", cfg.RunID))
	}
	return logger.With(fields...), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// ParseLevel converts a configuration level name to a zap level.
//
// Parameters:
//   - level: debug, info, warn or error, case-insensitive
//
// Returns:
//   - zapcore.Level: the level
//   - error: an error if the name is unknown
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
