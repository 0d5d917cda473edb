// Package logging builds the zap loggers used throughout the module
// and the key/value Logger that learners write their per-step
// statistics to.
package logging

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New
const (
	JSON    = "json"
	Console = "console"
)

// New returns a zap logger writing to stderr at the given level in the
// given format. Unknown levels default to info.
func New(level, format string) (*zap.Logger, error) {
	if format != JSON && format != Console {
		return nil, fmt.Errorf("new: unknown log format %q", format)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.Encoding = format
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig = encoderConfig(format)

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("new: failed to build logger: %w", err)
	}
	return logger, nil
}

func encoderConfig(format string) zapcore.EncoderConfig {
	config := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == Console {
		config.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}
	return config
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger records a set of named scalar values, such as the losses of
// a learner on one step
type Logger interface {
	Write(values map[string]float64)
}

// Factory creates a Logger with a label, e.g. "learner"
type Factory func(label string) Logger

// ZapFactory returns a Factory of Loggers writing to z
func ZapFactory(z *zap.Logger) Factory {
	return func(label string) Logger {
		return NewZapWriter(label, z)
	}
}

// zapWriter writes values as the fields of one log entry
type zapWriter struct {
	logger *zap.Logger
}

// NewZapWriter returns a Logger which writes each set of values as one
// info level entry of a logger named label
func NewZapWriter(label string, z *zap.Logger) Logger {
	return &zapWriter{logger: z.Named(label)}
}

// Write implements the Logger interface. Fields are sorted by name.
func (z *zapWriter) Write(values map[string]float64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, len(keys))
	for i, k := range keys {
		fields[i] = zap.Float64(k, values[k])
	}
	z.logger.Info("write", fields...)
}

type discard struct{}

func (discard) Write(map[string]float64) {}

// Discard is a Logger which drops all values
var Discard Logger = discard{}
