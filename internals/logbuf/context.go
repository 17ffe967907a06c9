package logbuf

import "context"

type ctxKey struct{}

func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger carried by ctx. Outside a request a
// detached logger is returned so callers never nil-check.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*Logger); ok && logger != nil {
		return logger
	}
	return New()
}
