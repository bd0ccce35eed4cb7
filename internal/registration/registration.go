// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package registration manages the notification endpoint set: the mapping from
a pseudonymous identity to the push-endpoint URLs that should receive a
version bump when a call comes in.

The set has strict set semantics (registering the same endpoint twice for
the same identity is rejected) and never expires implicitly. Endpoints are
consumed at call-initiation time by the orchestrator.
*/
package registration

// Record is one registered push endpoint.
type Record struct {
	// OwnerID is the identity the endpoint belongs to: the user identity for
	// bound sessions, the session identity for anonymous ones.
	OwnerID string `json:"userId"`

	// Endpoint is the push-notification URL.
	Endpoint string `json:"simplePushURL"`

	// Key is the keyed hash of (OwnerID, Endpoint). Declared unique at the
	// store, it is what turns the insert into a set operation.
	Key string `json:"registrationKey"`

	// CreatedAt is the Unix timestamp of the registration.
	CreatedAt int64 `json:"createdAt"`
}
