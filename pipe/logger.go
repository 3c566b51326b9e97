package pipe

import (
	"log/slog"
	"os"
)

// Logger is the minimal logging surface the package needs. It matches the
// log/slog calling convention so any slog-backed logger slots in directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger writes text-formatted records to stderr through log/slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger creates a stderr logger at the given level.
func NewDefaultLogger(level slog.Level) *DefaultLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return &DefaultLogger{logger: logger}
}

const logPrefix = "[axispipe] "

func (d *DefaultLogger) Debug(msg string, args ...any) {
	d.logger.Debug(logPrefix+msg, args...)
}

func (d *DefaultLogger) Info(msg string, args ...any) {
	d.logger.Info(logPrefix+msg, args...)
}

func (d *DefaultLogger) Warn(msg string, args ...any) {
	d.logger.Warn(logPrefix+msg, args...)
}

func (d *DefaultLogger) Error(msg string, args ...any) {
	d.logger.Error(logPrefix+msg, args...)
}
