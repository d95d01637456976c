// Package requestcontext carries per-request values through context: the
// correlation id and the authenticated actor.
package requestcontext

import (
	"context"

	id "issuant/pkg/domain"
)

type requestIDKey struct{}

// WithRequestID attaches a correlation id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation id, or "" when none is set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// Identity is the authenticated caller of a business operation.
type Identity struct {
	ID  id.IdentityID
	Bpn string
	// IsServiceAccount distinguishes technical users from humans; approval
	// and rejection require a human actor.
	IsServiceAccount bool
}

type identityKey struct{}

// WithIdentity attaches the authenticated actor to the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the authenticated actor, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(Identity)
	return v, ok
}
