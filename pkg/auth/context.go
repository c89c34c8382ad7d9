package auth

import "context"

type identityKey struct{}

// SetIdentity returns a context carrying the authenticated identity.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by SetIdentity, or nil
// when the request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
