// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package call implements the call orchestrator: recipient resolution,
media-provider session allocation, call-record persistence with a supervisory
window, and concurrent best-effort push fan-out.

A call record enters in state init and leaves it exactly once — answered,
rejected/cancelled, or expired. The answered transition (and everything after
it) belongs to the real-time channel; this package only guarantees the record
exists with its tokens at the moment of initiation, evicts records that sit
in init past the supervisory deadline, and deletes records on explicit
termination.
*/
package call

// State is the lifecycle state of a call record.
type State string

// init is the sole entry state. The remaining states are terminal from the
// orchestrator's perspective and are written by the real-time channel.
const (
	StateInit     State = "init"
	StateAnswered State = "answered"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Type distinguishes audio-only calls from audio+video calls.
type Type string

const (
	TypeAudio      Type = "audio"
	TypeAudioVideo Type = "audio-video"
)

// Record is one persisted call.
type Record struct {
	// CallID is the opaque 32-hex call identifier.
	CallID string `json:"callId"`

	// CalleeID is the identity being called.
	CalleeID string `json:"calleeId"`

	// CallerID is the identity placing the call, absent for anonymous callers.
	CallerID string `json:"callerId,omitempty"`

	// Type is audio or audio-video.
	Type Type `json:"callType"`

	// State tracks the call lifecycle; always init at creation.
	State State `json:"callState"`

	// CreatedAt is the Unix creation timestamp. It doubles as the version
	// marker consumed by list-since-version queries.
	CreatedAt int64 `json:"timestamp"`

	// ProviderSessionID and the two provider tokens come from the external
	// media-session provider.
	ProviderSessionID   string `json:"providerSessionId"`
	ProviderCalleeToken string `json:"providerCalleeToken"`
	ProviderCallerToken string `json:"providerCallerToken"`

	// CalleeChannelToken and CallerChannelToken gate the two roles' access
	// to the real-time progress channel.
	CalleeChannelToken string `json:"calleeChannelToken"`
	CallerChannelToken string `json:"callerChannelToken"`

	// CallToken is set when the call was placed through a call-URL token.
	CallToken string `json:"callToken,omitempty"`

	// URLCreationDate is the creation timestamp of that originating token.
	URLCreationDate int64 `json:"urlCreationDate,omitempty"`
}

// Initiation is the per-recipient result returned to the placing caller.
type Initiation struct {
	CallID       string `json:"callId"`
	ChannelToken string `json:"websocketToken"`
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	APIKey       string `json:"apiKey"`
	ProgressURL  string `json:"progressURL"`
}

// Summary is one entry of a callee's call list.
type Summary struct {
	CallID       string `json:"callId"`
	CallerID     string `json:"callerId,omitempty"`
	Type         Type   `json:"callType"`
	CreatedAt    int64  `json:"timestamp"`
	ChannelToken string `json:"websocketToken"`
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	APIKey       string `json:"apiKey"`
	ProgressURL  string `json:"progressURL"`

	// CallURL is the reconstructed invitation URL when the call originated
	// from a call-URL token.
	CallURL         string `json:"callUrl,omitempty"`
	URLCreationDate int64  `json:"urlCreationDate,omitempty"`
}
