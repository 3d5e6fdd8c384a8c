// Package auth provides request context helpers for verified OIDC claims.
package auth

import (
	"context"
	"time"
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims contains the verified token details we care about.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Scope     string
	Raw       map[string]any
}

// Email returns the email claim when the identity provider includes one.
func (c *Claims) Email() string {
	if c == nil {
		return ""
	}
	if s, ok := c.Raw["email"].(string); ok {
		return s
	}
	return ""
}

// Name returns the display name claim, falling back to nickname.
func (c *Claims) Name() string {
	if c == nil {
		return ""
	}
	if s, ok := c.Raw["name"].(string); ok && s != "" {
		return s
	}
	if s, ok := c.Raw["nickname"].(string); ok {
		return s
	}
	return ""
}

// WithClaims stores auth claims in a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims from a context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
