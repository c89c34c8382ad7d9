// Package noop accepts every request with an anonymous identity. It
// serves development setups and chains that only need rate limiting.
package noop

import (
	"context"
	"net/http"

	"github.com/chorus-llm/chorus/pkg/auth"
)

// Authenticator votes Yes for every request.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     "anonymous",
			ServiceTier: "default",
		},
	}
}
