// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package callurl implements the call-URL manager: creation, resolution,
update, and revocation of the time-bounded invitation tokens that let an
unauthenticated party place a call to the token's owner.

Tokens are opaque, fixed-length, URL-safe, and globally unique across all
owners. Expiry is lazy (an expired token simply stops resolving) and
revocation is permanent.
*/
package callurl

// Token is one call-URL invitation.
type Token struct {
	// Token is the URL-safe invitation token (globally unique).
	Token string `json:"callToken"`

	// OwnerID is the identity that created, and may mutate, the token.
	OwnerID string `json:"ownerId"`

	// CalleeName is the display name shown to the visiting caller.
	CalleeName string `json:"calleeFriendlyName"`

	// CreatedAt is the Unix timestamp of creation.
	CreatedAt int64 `json:"timestamp"`

	// ExpiresAt is the Unix timestamp past which the token no longer
	// resolves. Zero means the token never expires.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// Expired reports whether the token is past its expiry at the given Unix time.
func (t *Token) Expired(now int64) bool {
	return t.ExpiresAt > 0 && now > t.ExpiresAt
}
