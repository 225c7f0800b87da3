// Package logging wraps zap with the dimensions zincsync's components log
// against: peer/device IDs, workspace/doc IDs, and errors.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

// NewLogger builds a Logger at the given level ("debug", "info", "warn",
// ...) and encoding ("json" or "console").
func NewLogger(level string, format string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewForEnv builds a Logger the way the debug-sync env var steers it: debug
// level with human-readable console output when enabled, warn level with
// structured JSON otherwise.
func NewForEnv(debugSync bool) (*Logger, error) {
	if debugSync {
		return NewLogger("debug", "console")
	}
	return NewLogger("warn", "json")
}

func (l *Logger) WithPeer(deviceID string) *zap.Logger {
	return l.With(zap.String("peer_device_id", deviceID))
}

func (l *Logger) WithDoc(docID string) *zap.Logger {
	return l.With(zap.String("doc_id", docID))
}

func (l *Logger) WithWorkspace(workspaceID string) *zap.Logger {
	return l.With(zap.String("workspace_id", workspaceID))
}

func (l *Logger) WithError(err error) *zap.Logger {
	return l.With(zap.Error(err))
}
