// Copyright (c) 2026 Loop Server. All rights reserved.

// Package sec provides cryptographic primitives for the signaling core:
// keyed identity derivation, opaque token generation, identifier encryption,
// and identity-assertion verification.
//
// # Architecture
//
// This package isolates security-sensitive code from the domain logic. It is
// a leaf package: everything here is pure computation over a caller-supplied
// secret, with no storage or transport dependencies.
package sec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Session is the resolved caller identity attached to a request.
//
// SessionID is always present. UserID is present only once the session has
// been bound to a verified external identifier; a session never transitions
// back to anonymous.
type Session struct {
	// SessionID is the pseudonymous per-device identity.
	SessionID string

	// UserID is the pseudonymous cross-session identity, empty when anonymous.
	UserID string

	// Token is the opaque credential the client presented (or was just issued).
	Token string

	// New reports whether the session record was minted during this request.
	New bool
}

// Identity returns the identity outbound artifacts should be scoped to: the
// cross-session user identity when the session is bound, otherwise the
// per-device session identity.
func (s *Session) Identity() string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.SessionID
}

// DeriveIdentity computes the pseudonymous identity for a credential.
//
// The mapping is a keyed one-way hash: HMAC-SHA256(secret, credential),
// rendered as lowercase hex. It is deterministic (the same credential under
// the same secret always yields the same identity) and has no reversal path.
func DeriveIdentity(secret, credential string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(credential))
	return hex.EncodeToString(mac.Sum(nil))
}
