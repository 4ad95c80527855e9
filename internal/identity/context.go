package identity

import (
	"context"
	"strings"
)

// Identity carries the opaque external identity of the authenticated caller.
// Identity management itself (sessions, tokens) lives outside this service;
// an upstream gateway injects the subject on every request.
type Identity struct {
	// Subject is the stable opaque user identifier issued by the external
	// identity provider.
	Subject string
}

type identityKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity, if set.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	value, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || strings.TrimSpace(value.Subject) == "" {
		return Identity{}, false
	}
	return value, true
}
