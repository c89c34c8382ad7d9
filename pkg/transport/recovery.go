package transport

import (
	"context"
	"fmt"

	"github.com/chorus-llm/chorus/pkg/api"
)

// Recovery returns middleware that turns a panic in the dispatch chain
// into an internal error response, keeping the server serving.
func Recovery() Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req *api.ChatRequest) (resp *api.ChatResponse, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					retErr = api.NewInternalError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Dispatch(ctx, req)
		})
	}
}
