package log

import "context"

// loggerKey is the key for the logger in the context.
type loggerKey struct{}

// ToContext stores a logger in the context for operations performed with it.
func ToContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the logger from the context, or nil if none is set.
func FromContext(ctx context.Context) Logger {
	logger, ok := ctx.Value(loggerKey{}).(Logger)
	if !ok {
		return nil
	}

	return logger
}

// FromContextOrNoop returns the context's logger, or a Noop if none is set.
func FromContextOrNoop(ctx context.Context) Logger {
	if logger := FromContext(ctx); logger != nil {
		return logger
	}

	return Noop{}
}
