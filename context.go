package opsdeck

import "context"

type ctxKey string

const (
	ctxKeyIdentity  ctxKey = "opsdeck_identity"
	ctxKeyRequestID ctxKey = "opsdeck_request_id"
	ctxKeyNoRefresh ctxKey = "opsdeck_no_refresh"
)

// WithIdentity stores the authenticated identity in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return v
}

// WithRequestID stores a correlation ID in the context. The transport
// forwards it as the X-Request-Id header instead of minting its own.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the correlation ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// WithoutRefresh marks the context so a 401 response passes through
// untouched instead of triggering a token refresh. Used for requests that
// are themselves part of the authentication flow.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyNoRefresh, true)
}

func refreshExempt(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyNoRefresh).(bool)
	return v
}
