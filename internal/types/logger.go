package types

import (
	"io"
	"log/slog"
)

// slogLogger wraps *slog.Logger to implement Logger. slog.Logger already has
// Info, Error and Warn, but its With returns *slog.Logger rather than Logger.
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger adapts l to the Logger interface.
func NewSlogLogger(l *slog.Logger) Logger {
	return &slogLogger{logger: l}
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (a *slogLogger) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogLogger) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogLogger) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: a.logger.With(args...)}
}
