// Copyright (c) 2026 Loop Server. All rights reserved.

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/sec"
)

// Resolver maps credentials to pseudonymous identities, lazily provisioning
// session records. It implements [middleware.SessionResolver].
type Resolver struct {
	store    kvstore.Store[Record]
	verifier *sec.AssertionVerifier
	cfg      *config.Config
	logger   *slog.Logger
}

// NewResolver constructs the identity resolver.
func NewResolver(store kvstore.Store[Record], verifier *sec.AssertionVerifier, cfg *config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// ResolveSession resolves an opaque session credential to its identity.
//
// A known credential refreshes the record's last-activity timestamp; an
// unknown one mints and persists a fresh anonymous session (Session.New is
// true). The credential-to-identity mapping is deterministic, so a lost
// record simply re-provisions under the same identity.
func (r *Resolver) ResolveSession(ctx context.Context, credential string) (*sec.Session, error) {
	sessionID := sec.DeriveIdentity(r.cfg.IdentitySecret, credential)
	now := time.Now().Unix()

	stored, err := r.store.FindOne(ctx, kvstore.Query{"sessionId": sessionID})
	if err != nil {
		return nil, storeFail(err)
	}

	if stored != nil {
		stored.LastActivity = now
		if err := r.store.UpdateOrCreate(ctx, kvstore.Query{"sessionId": sessionID}, *stored); err != nil {
			return nil, storeFail(err)
		}
		return &sec.Session{
			SessionID: sessionID,
			UserID:    stored.UserID,
			Token:     credential,
		}, nil
	}

	record := Record{SessionID: sessionID, LastActivity: now}
	if err := r.store.Add(ctx, record, "sessionId"); err != nil {
		// A concurrent request provisioned the same session first; the
		// identity is identical either way.
		if !errors.Is(err, kvstore.ErrDuplicateKey) {
			return nil, storeFail(err)
		}
	}

	return &sec.Session{
		SessionID: sessionID,
		Token:     credential,
		New:       true,
	}, nil
}

// MintSession issues a fresh anonymous session credential and provisions its
// record.
func (r *Resolver) MintSession(ctx context.Context) (*sec.Session, error) {
	return r.ResolveSession(ctx, sec.NewHexToken(constants.SessionTokenBytes))
}

// ResolveVerifiedIdentity validates a signed assertion, mints a fresh
// session, and binds the derived user identity to it.
//
// The verified identifier is encrypted under a key derived from the new
// session credential before storage, so caller identity can later be shown
// to a callee without the identifier ever being stored in the clear.
func (r *Resolver) ResolveVerifiedIdentity(ctx context.Context, assertion string) (*sec.Session, error) {
	claims, err := r.verifier.Verify(assertion)
	if err != nil {
		return nil, assertionFail(err)
	}

	identifier := claims.Identifier()
	userID := sec.DeriveIdentity(r.cfg.IdentitySecret, identifier)

	token := sec.NewHexToken(constants.SessionTokenBytes)
	sessionID := sec.DeriveIdentity(r.cfg.IdentitySecret, token)

	encrypted, err := sec.EncryptIdentifier(r.cfg.IdentitySecret, token, identifier)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	record := Record{
		SessionID:           sessionID,
		UserID:              userID,
		EncryptedIdentifier: encrypted,
		LastActivity:        time.Now().Unix(),
	}
	if err := r.store.Add(ctx, record, "sessionId"); err != nil {
		return nil, storeFail(err)
	}

	r.logger.InfoContext(ctx, "session_bound",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
	)

	return &sec.Session{
		SessionID: sessionID,
		UserID:    userID,
		Token:     token,
		New:       true,
	}, nil
}

// RevealIdentifier decrypts the stored verified identifier of a bound
// session. It requires the raw session credential, which only the session
// holder's requests carry.
func (r *Resolver) RevealIdentifier(ctx context.Context, credential string) (string, error) {
	sessionID := sec.DeriveIdentity(r.cfg.IdentitySecret, credential)

	stored, err := r.store.FindOne(ctx, kvstore.Query{"sessionId": sessionID})
	if err != nil {
		return "", storeFail(err)
	}
	if stored == nil || stored.EncryptedIdentifier == "" {
		return "", apperr.NotFound("Verified identifier")
	}

	identifier, err := sec.DecryptIdentifier(r.cfg.IdentitySecret, credential, stored.EncryptedIdentifier)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return identifier, nil
}

// assertionFail maps assertion verification failures onto the error taxonomy.
// All three causes are credential refusals, but the messages stay distinct so
// clients can tell a broken token from an untrusted one.
func assertionFail(err error) error {
	switch {
	case errors.Is(err, sec.ErrUntrustedIssuer):
		return apperr.Unauthorized("Assertion issuer is not trusted")
	case errors.Is(err, sec.ErrNoVerifiedIdentifier):
		return apperr.Unauthorized("Assertion carries no verified identifier")
	default:
		return apperr.Unauthorized("Invalid assertion")
	}
}

func storeFail(err error) error {
	return apperr.Unavailable("Storage unavailable", err)
}
