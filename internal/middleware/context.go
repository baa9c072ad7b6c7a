package middleware

import "context"

type contextKey string

const identityKey contextKey = "identity_id"

// GetIdentity returns the verified identity id from the context, 0 when the
// request was not authenticated.
func GetIdentity(ctx context.Context) int64 {
	v, _ := ctx.Value(identityKey).(int64)
	return v
}

// WithIdentity is used by the auth middleware and by handler tests.
func WithIdentity(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
