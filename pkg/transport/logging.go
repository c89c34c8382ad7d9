package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
)

// Logging returns middleware that logs one entry per blocking dispatch
// with request ID, provider, model, duration, and the error type on
// failure. Credentials never appear in the entry. HTTP method, path,
// and status live a layer up; log those in the adapter.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			resp, err := next.Dispatch(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("provider", req.Provider),
				slog.String("model", req.Model),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error_type", string(api.AsError(err).Type)))
				logger.LogAttrs(ctx, slog.LevelError, "dispatch failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "dispatch completed", attrs...)
			}

			return resp, err
		})
	}
}
