package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is one of the three outcomes an authenticator can vote.
type Decision int

const (
	// Yes accepts the request; the chain stops and the identity is used.
	Yes Decision = iota

	// No rejects the request; credentials were presented but are invalid.
	No

	// Abstain passes to the next authenticator; this one does not
	// recognize the credential type.
	Abstain
)

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set only on Yes
	Err      error     // set only on No
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty). It
	// scopes stored provider credentials downstream.
	Subject string

	// ServiceTier selects the caller's rate-limit bucket.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string

	// Metadata carries auth-provider-specific data.
	Metadata map[string]string
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators left to right and stops on the first
// non-abstaining vote.
type Chain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains. Yes
	// yields an anonymous identity; No rejects unrecognized callers.
	DefaultDecision Decision
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		return Result{
			Decision: Yes,
			Identity: &Identity{Subject: "anonymous", ServiceTier: "default"},
		}
	}

	return Result{
		Decision: No,
		Err:      ErrUnauthenticated,
	}
}
