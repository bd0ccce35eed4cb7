// Copyright (c) 2026 Loop Server. All rights reserved.

package sec

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Assertion verification failure categories. Callers map these onto the
// 400/401 boundary: a structurally broken assertion is the client's to fix,
// an untrusted issuer or missing identifier is an authentication refusal.
var (
	// ErrMalformedAssertion means the assertion could not be parsed or its
	// signature did not verify.
	ErrMalformedAssertion = errors.New("sec: malformed assertion")

	// ErrUntrustedIssuer means the issuer claim is not on the allow-list.
	ErrUntrustedIssuer = errors.New("sec: untrusted assertion issuer")

	// ErrNoVerifiedIdentifier means neither an email-equivalent nor a
	// phone-equivalent claim is present.
	ErrNoVerifiedIdentifier = errors.New("sec: assertion carries no verified identifier")
)

// AssertionClaims is the payload of a signed identity assertion.
//
// The identity provider attests exactly one verified identifier, an
// email-equivalent or a phone-equivalent, plus the standard issuer and
// expiry claims.
type AssertionClaims struct {
	jwt.RegisteredClaims

	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Identifier returns the verified identifier carried by the assertion,
// preferring the email-equivalent claim.
func (c *AssertionClaims) Identifier() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Phone
}

// AssertionVerifier validates signed identity assertions against a shared
// secret and an issuer allow-list.
type AssertionVerifier struct {
	secret  []byte
	trusted func(issuer string) bool
}

// NewAssertionVerifier constructs a verifier.
//
// trusted is consulted with the assertion's issuer claim; returning false
// rejects the assertion regardless of a valid signature.
func NewAssertionVerifier(secret string, trusted func(issuer string) bool) *AssertionVerifier {
	return &AssertionVerifier{secret: []byte(secret), trusted: trusted}
}

// Verify checks the assertion's signature, issuer, and identifier claims.
func (v *AssertionVerifier) Verify(assertion string) (*AssertionClaims, error) {
	token, err := jwt.ParseWithClaims(assertion, &AssertionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAssertion, err)
	}

	claims, ok := token.Claims.(*AssertionClaims)
	if !ok || !token.Valid {
		return nil, ErrMalformedAssertion
	}

	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" || !v.trusted(issuer) {
		return nil, ErrUntrustedIssuer
	}

	if claims.Identifier() == "" {
		return nil, ErrNoVerifiedIdentifier
	}

	return claims, nil
}
