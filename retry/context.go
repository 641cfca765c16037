package retry

import "context"

// retrierKey is the key for the retrier in the context.
type retrierKey struct{}

// ToContext stores a retrier in the context for operations performed with it.
func ToContext(ctx context.Context, retrier Retrier) context.Context {
	return context.WithValue(ctx, retrierKey{}, retrier)
}

// FromContext gets the retrier from the context, or nil if none is set.
func FromContext(ctx context.Context) Retrier {
	retrier, ok := ctx.Value(retrierKey{}).(Retrier)
	if !ok {
		return nil
	}

	return retrier
}

// FromContextOrNoop returns the context's retrier, or a NoopRetrier if
// none is set, so retry logic always has a retrier to work with.
func FromContextOrNoop(ctx context.Context) Retrier {
	if retrier := FromContext(ctx); retrier != nil {
		return retrier
	}

	return NoopRetrier{}
}
