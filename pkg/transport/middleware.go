package transport

import "context"

// Middleware wraps a Dispatcher with cross-cutting behavior.
type Middleware func(Dispatcher) Dispatcher

// Chain composes middleware so that Chain(a, b, c) yields a(b(c(next))):
// a runs first on the way in and last on the way out.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Dispatcher) Dispatcher {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// RequestIDFromContext returns the request ID carried by ctx, or "" when
// none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
