package log

import "log/slog"

// Compile-time check that Slog implements Logger.
var _ Logger = (*Slog)(nil)

// Slog adapts a *slog.Logger to the holdfast Logger interface, so
// embedders can plug their existing log/slog setup (including handlers
// like tint) straight into the client.
type Slog struct {
	logger *slog.Logger
}

// NewSlog wraps l. A nil l uses slog.Default().
func NewSlog(l *slog.Logger) *Slog {
	if l == nil {
		l = slog.Default()
	}
	return &Slog{logger: l}
}

func (s *Slog) Debug(msg string, keysAndValues ...any) { s.logger.Debug(msg, keysAndValues...) }
func (s *Slog) Info(msg string, keysAndValues ...any)  { s.logger.Info(msg, keysAndValues...) }
func (s *Slog) Error(msg string, keysAndValues ...any) { s.logger.Error(msg, keysAndValues...) }
func (s *Slog) Warn(msg string, keysAndValues ...any)  { s.logger.Warn(msg, keysAndValues...) }
