package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the level, encoding and identity of a process logger.
type Options struct {
	Level string
	// Format is "json" (default) or "console".
	Format  string
	Service string
	Version string
}

// New builds the process logger. Every entry carries the service and
// version so API and deriver logs can share a sink.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(strings.ToLower(opts.Level)); err != nil {
			return nil, err
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]any{},
	}
	switch strings.ToLower(opts.Format) {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}
	if opts.Service != "" {
		cfg.InitialFields["service"] = opts.Service
	}
	if opts.Version != "" {
		cfg.InitialFields["version"] = opts.Version
	}

	return cfg.Build()
}
