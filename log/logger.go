// Package log defines the minimal logging interface used across holdfast.
package log

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/logger.go . Logger

// Logger is a minimal logging interface for holdfast components.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Noop implements Logger but does nothing. It is the default when no
// logger is configured.
type Noop struct{}

func (Noop) Debug(msg string, keysAndValues ...any) {}
func (Noop) Info(msg string, keysAndValues ...any)  {}
func (Noop) Error(msg string, keysAndValues ...any) {}
func (Noop) Warn(msg string, keysAndValues ...any)  {}
