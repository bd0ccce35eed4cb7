// Copyright (c) 2026 Loop Server. All rights reserved.

package callurl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/sec"
	"github.com/frsela/loop-server/internal/platform/validate"
)

// maxCalleeNameLen bounds the display name embedded in invitation pages.
const maxCalleeNameLen = 100

// secondsPerHour converts the hour-granular client lifetime into the
// second-granular stored expiry.
const secondsPerHour = 3600

// UpdateFields carries the mutable token attributes. Nil pointers leave the
// stored value untouched.
type UpdateFields struct {
	CalleeName *string
	// ExpiresInHours re-bases expiry to now + hours. Zero disables expiry.
	ExpiresInHours *int
}

// Service owns the call-URL token lifecycle.
type Service struct {
	store  kvstore.Store[Token]
	cfg    *config.Config
	logger *slog.Logger
}

// NewService constructs the call-URL manager.
func NewService(store kvstore.Store[Token], cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{store: store, cfg: cfg, logger: logger}
}

// Create issues a fresh invitation token for ownerID.
//
// expiresInHours semantics: nil applies the configured default lifetime,
// zero creates a token with no expiry, anything negative or above the
// configured maximum is a validation error. When a lifetime applies,
// expiresAt is exactly createdAt + hours × 3600.
//
// The astronomically unlikely random-token collision surfaces as a conflict;
// callers retry with a fresh token.
func (s *Service) Create(ctx context.Context, ownerID, calleeName string, expiresInHours *int) (*Token, error) {
	calleeName = norm.NFC.String(calleeName)

	hours := s.cfg.CallURLDefaultHours
	if expiresInHours != nil {
		hours = *expiresInHours
	}

	v := &validate.Validator{}
	v.Required("callee_friendly_name", calleeName).
		MaxLen("callee_friendly_name", calleeName, maxCalleeNameLen).
		Range("expires_in", hours, 0, s.cfg.CallURLMaxHours)
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	token := Token{
		Token:      sec.NewURLToken(constants.CallTokenBytes),
		OwnerID:    ownerID,
		CalleeName: calleeName,
		CreatedAt:  now,
	}
	if hours > 0 {
		token.ExpiresAt = now + int64(hours)*secondsPerHour
	}

	if err := s.store.Add(ctx, token, "callToken"); err != nil {
		if errors.Is(err, kvstore.ErrDuplicateKey) {
			return nil, apperr.Conflict("Token already exists, retry")
		}
		return nil, apperr.Unavailable("Storage unavailable", err)
	}

	s.logger.InfoContext(ctx, "call_url_created", slog.String("owner_id", ownerID))
	return &token, nil
}

// Resolve returns the token record, or not-found once the token has been
// revoked or has lazily expired. Expired records are left in place: deletion
// is reserved for explicit revocation.
func (s *Service) Resolve(ctx context.Context, token string) (*Token, error) {
	stored, err := s.store.FindOne(ctx, kvstore.Query{"callToken": token})
	if err != nil {
		return nil, apperr.Unavailable("Storage unavailable", err)
	}
	if stored == nil || stored.Expired(time.Now().Unix()) {
		return nil, apperr.NotFound("Call URL")
	}
	return stored, nil
}

// Update mutates the display name and/or expiry of an owned token.
//
// A missing token is not-found; a token owned by someone else is forbidden —
// ownership is the explicit subject of this operation, so the two outcomes
// stay distinguishable here (and only here).
func (s *Service) Update(ctx context.Context, token, ownerID string, fields UpdateFields) (*Token, error) {
	stored, err := s.store.FindOne(ctx, kvstore.Query{"callToken": token})
	if err != nil {
		return nil, apperr.Unavailable("Storage unavailable", err)
	}
	if stored == nil {
		return nil, apperr.NotFound("Call URL")
	}
	if stored.OwnerID != ownerID {
		return nil, apperr.Forbidden("Token belongs to another identity")
	}

	v := &validate.Validator{}
	if fields.CalleeName != nil {
		name := norm.NFC.String(*fields.CalleeName)
		v.Required("callee_friendly_name", name).
			MaxLen("callee_friendly_name", name, maxCalleeNameLen)
		stored.CalleeName = name
	}
	if fields.ExpiresInHours != nil {
		hours := *fields.ExpiresInHours
		v.Range("expires_in", hours, 0, s.cfg.CallURLMaxHours)
		if hours > 0 {
			stored.ExpiresAt = time.Now().Unix() + int64(hours)*secondsPerHour
		} else {
			stored.ExpiresAt = 0
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	// Update never inserts, so a revoke landing after the ownership check
	// cannot be undone by this write. Revocation is permanent.
	matched, err := s.store.Update(ctx, kvstore.Query{"callToken": token}, *stored)
	if err != nil {
		return nil, apperr.Unavailable("Storage unavailable", err)
	}
	if matched == 0 {
		return nil, apperr.NotFound("Call URL")
	}
	return stored, nil
}

// Revoke permanently deletes an owned token. A revoked token never resolves
// again.
func (s *Service) Revoke(ctx context.Context, token, ownerID string) error {
	stored, err := s.store.FindOne(ctx, kvstore.Query{"callToken": token})
	if err != nil {
		return apperr.Unavailable("Storage unavailable", err)
	}
	if stored == nil {
		return apperr.NotFound("Call URL")
	}
	if stored.OwnerID != ownerID {
		return apperr.Forbidden("Token belongs to another identity")
	}

	if _, err := s.store.Delete(ctx, kvstore.Query{"callToken": token}); err != nil {
		return apperr.Unavailable("Storage unavailable", err)
	}

	s.logger.InfoContext(ctx, "call_url_revoked", slog.String("owner_id", ownerID))
	return nil
}

// InvitationURL reconstructs the shareable URL for a token.
func (s *Service) InvitationURL(token string) string {
	return s.cfg.ServerRootURL + "/calls/" + token
}
