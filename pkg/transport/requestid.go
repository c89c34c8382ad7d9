package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/chorus-llm/chorus/pkg/api"
)

// RequestID returns middleware that guarantees every dispatch carries a
// request ID. A client-supplied ID already in the context (placed there
// by the HTTP layer from the X-Request-ID header) is kept; otherwise a
// fresh one is generated. Retrieve it with RequestIDFromContext.
func RequestID() Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, newRequestID())
			}
			return next.Dispatch(ctx, req)
		})
	}
}

func newRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
