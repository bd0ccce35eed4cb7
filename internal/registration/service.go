// Copyright (c) 2026 Loop Server. All rights reserved.

package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/sec"
	"github.com/frsela/loop-server/internal/platform/validate"
)

// Service owns the notification endpoint set.
type Service struct {
	store  kvstore.Store[Record]
	cfg    *config.Config
	logger *slog.Logger
}

// NewService constructs the registration service.
func NewService(store kvstore.Store[Record], cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{store: store, cfg: cfg, logger: logger}
}

// Register adds a push endpoint to the caller's endpoint set.
//
// Duplicate registration is a conflict, enforced atomically by the store's
// uniqueness constraint rather than a prior read.
func (s *Service) Register(ctx context.Context, caller *sec.Session, endpoint string) error {
	v := &validate.Validator{}
	v.Required("simple_push_url", endpoint).HTTPSUrl("simple_push_url", endpoint)
	if err := v.Err(); err != nil {
		return err
	}

	ownerID := caller.Identity()
	record := Record{
		OwnerID:   ownerID,
		Endpoint:  endpoint,
		Key:       registrationKey(s.cfg.IdentitySecret, ownerID, endpoint),
		CreatedAt: time.Now().Unix(),
	}

	if err := s.store.Add(ctx, record, "registrationKey"); err != nil {
		if errors.Is(err, kvstore.ErrDuplicateKey) {
			return apperr.Conflict("Endpoint already registered")
		}
		return apperr.Unavailable("Storage unavailable", err)
	}

	s.logger.InfoContext(ctx, "endpoint_registered", slog.String("owner_id", ownerID))
	return nil
}

// Unregister removes a push endpoint from the caller's endpoint set.
func (s *Service) Unregister(ctx context.Context, caller *sec.Session, endpoint string) error {
	key := registrationKey(s.cfg.IdentitySecret, caller.Identity(), endpoint)

	removed, err := s.store.Delete(ctx, kvstore.Query{"registrationKey": key})
	if err != nil {
		return apperr.Unavailable("Storage unavailable", err)
	}
	if removed == 0 {
		return apperr.NotFound("Registration")
	}
	return nil
}

// EndpointsFor returns every endpoint registered for an identity, in
// registration order. An identity with no registrations yields an empty
// slice, not an error.
func (s *Service) EndpointsFor(ctx context.Context, ownerID string) ([]string, error) {
	records, err := s.store.Find(ctx, kvstore.Query{"userId": ownerID})
	if err != nil {
		return nil, apperr.Unavailable("Storage unavailable", err)
	}

	endpoints := make([]string, 0, len(records))
	for _, record := range records {
		endpoints = append(endpoints, record.Endpoint)
	}
	return endpoints, nil
}

// registrationKey derives the unique set-membership key for one
// (identity, endpoint) pair. Keyed hashing keeps raw endpoint URLs out of
// the uniqueness index.
func registrationKey(secret, ownerID, endpoint string) string {
	return sec.DeriveIdentity(secret, ownerID+"|"+endpoint)
}
