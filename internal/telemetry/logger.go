// Package telemetry builds the structured loggers used by the arbiter,
// provider, and CLI processes.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig holds logging configuration for one process.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the log format (json, console).
	Format string
	// OutputPaths is the list of output sinks (stdout, stderr, file paths).
	OutputPaths []string
	// ErrorOutputPaths is the list of sinks for zap's own errors.
	ErrorOutputPaths []string
	// ServiceName tags every log line with which process emitted it.
	ServiceName string
	// Environment is a free-form deployment tag (dev, staging, prod).
	Environment string
}

// DefaultLogConfig returns sane defaults for serviceName.
func DefaultLogConfig(serviceName string) *LogConfig {
	return &LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		ServiceName:      serviceName,
		Environment:      "development",
	}
}

// NewLogger builds a *zap.Logger from cfg, falling back to
// DefaultLogConfig("pay-per-prompt") when cfg is nil.
func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig("pay-per-prompt")
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Environment == "development",
		DisableCaller:     false,
		DisableStacktrace: false,
		Encoding:          cfg.Format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  cfg.ErrorOutputPaths,
		InitialFields: map[string]interface{}{
			"service":     cfg.ServiceName,
			"environment": cfg.Environment,
		},
	}

	return zapConfig.Build()
}

// Common structured-field helpers shared across the arbiter, provider,
// and CLI logging call sites.
var (
	ChannelID = func(id string) zap.Field { return zap.String("channel_id", id) }
	Operation = func(op string) zap.Field { return zap.String("operation", op) }
	AccountID = func(id string) zap.Field { return zap.String("account_id", id) }
)
