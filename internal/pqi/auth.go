package pqi

import (
	"context"
	"time"
)

// tokenExpirySkew is subtracted from the expiry so a token is refreshed
// slightly before the server would reject it.
const tokenExpirySkew = 30 * time.Second

// Token is an opaque bearer token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is missing or past its expiry,
// allowing for clock skew.
func (t *Token) Expired(now time.Time) bool {
	if t == nil || t.Value == "" {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-tokenExpirySkew))
}

// TokenSource provides bearer tokens for the remote system.
type TokenSource interface {
	// Token returns a valid token, refreshing if the cached one expired.
	// Returns *AuthError when no valid token can be obtained.
	Token(ctx context.Context) (*Token, error)

	// Invalidate drops any cached token so the next Token call refreshes.
	// Called after the remote system rejects a request as unauthorized.
	Invalidate()
}
