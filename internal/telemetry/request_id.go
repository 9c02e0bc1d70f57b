package telemetry

import "context"

type requestIDKey struct{}

// WithRequestID stores a request id on the context so audit events emitted
// deeper in the call chain can be correlated with the originating request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFrom returns the request id bound to the context, if any.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
