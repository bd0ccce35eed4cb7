// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package session implements the identity resolver: it converts externally
verified credentials into opaque, storage-keyed pseudonymous identities.

Two identity namespaces exist:

  - Session identity: HMAC of the opaque session credential. Stable for the
    life of the session, used for per-device state.
  - User identity: HMAC of a verified external identifier (email- or
    phone-equivalent claim from a signed assertion). Stable forever, used to
    correlate multiple sessions of the same person.

A session is either unauthenticated-anonymous (record created on demand) or
bound (user identity attached). No session ever transitions from bound back
to unauthenticated.
*/
package session

// Record is the stored session state.
//
// EncryptedIdentifier is present only when the session was bound via a
// verified assertion; it is sealed under a key derived from the session
// credential, so only callers holding that credential can recover the real
// identifier. Nothing but this package reads Records.
type Record struct {
	// SessionID is the pseudonymous session identity (storage key).
	SessionID string `json:"sessionId"`

	// UserID is the pseudonymous user identity, empty for anonymous sessions.
	UserID string `json:"userId,omitempty"`

	// EncryptedIdentifier is the sealed verified identifier, if any.
	EncryptedIdentifier string `json:"encryptedIdentifier,omitempty"`

	// LastActivity is the Unix timestamp of the most recent authenticated
	// request, refreshed on every resolution.
	LastActivity int64 `json:"lastActivity"`
}
