// Package auth carries the caller's identity through a request. The catalog
// engine only ever asks whether an authenticated identity is present; how
// it got there (API key, upstream session) is the transport's concern.
package auth

import "context"

// Identity is an authenticated caller.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	// RateLimit is the caller's allowance in requests per minute; zero
	// means the server default.
	RateLimit int `json:"rate_limit,omitempty"`
}

// Provider resolves the identity of the current call.
type Provider interface {
	CurrentIdentity(ctx context.Context) (Identity, bool)
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.ID == "" {
		return Identity{}, false
	}
	return id, true
}

// ContextProvider reads the identity placed on the context by middleware.
type ContextProvider struct{}

func (ContextProvider) CurrentIdentity(ctx context.Context) (Identity, bool) {
	return FromContext(ctx)
}

// Anonymous is a Provider that always reports the same fixed identity, for
// deployments without authentication.
type Anonymous struct {
	Identity Identity
}

func (a Anonymous) CurrentIdentity(ctx context.Context) (Identity, bool) {
	if id, ok := FromContext(ctx); ok {
		return id, true
	}
	return a.Identity, a.Identity.ID != ""
}
