package core

import (
	"context"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey contextKey = "request-id"
	identityKey  contextKey = "caller-identity"
)

// CallerIdentity is the authenticated caller attached to a request.
// Only Premium is consulted by routing; the rest is carried for logs.
type CallerIdentity struct {
	ID         string     `json:"id"`
	Premium    bool       `json:"premium"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UsageLimit *int64     `json:"usage_limit,omitempty"`
}

// Expired reports whether the identity is past its expiry at now.
func (c *CallerIdentity) Expired(now time.Time) bool {
	return c != nil && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithCallerIdentity returns a new context carrying the caller identity.
func WithCallerIdentity(ctx context.Context, identity *CallerIdentity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetCallerIdentity returns the caller identity, or nil for anonymous requests.
func GetCallerIdentity(ctx context.Context) *CallerIdentity {
	if v, ok := ctx.Value(identityKey).(*CallerIdentity); ok {
		return v
	}
	return nil
}
