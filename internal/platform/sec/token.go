// Copyright (c) 2026 Loop Server. All rights reserved.

package sec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewHexToken returns n bytes of cryptographic randomness as lowercase hex.
//
// # Safety
//
// It panics only if the OS random source is unavailable (extremely rare).
// This is acceptable as OS entropy failure is an unrecoverable system-level error.
func NewHexToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("sec: failed to read random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// NewURLToken returns n bytes of cryptographic randomness as unpadded
// base64url, suitable for embedding in a shareable invitation URL.
func NewURLToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("sec: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// NewCallID returns a fresh 32-character lowercase hex call identifier.
//
// UUIDv4 stripped of its hyphens gives exactly the 128-bit / 32-hex shape
// the call record contract requires.
func NewCallID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
