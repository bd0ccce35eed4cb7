// Copyright (c) 2026 Loop Server. All rights reserved.

package callurl_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frsela/loop-server/internal/callurl"
	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
)

func newService(t *testing.T) (*callurl.Service, kvstore.Store[callurl.Token]) {
	t.Helper()

	cfg := &config.Config{
		ServerRootURL:       "https://loop.example.com",
		CallURLDefaultHours: 24,
		CallURLMaxHours:     744,
	}
	store := kvstore.NewMemory[callurl.Token](constants.CollectionCallURLs)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return callurl.NewService(store, cfg, logger), store
}

func hours(n int) *int { return &n }

/*
TestService_Create covers lifetime semantics: the configured default when the
caller omits a lifetime, exact hour-to-second expiry arithmetic, and the
never-expires case.
*/
func TestService_Create(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	t.Run("default_lifetime", func(t *testing.T) {
		before := time.Now().Unix()
		token, err := service.Create(ctx, "owner-1", "Alice", nil)
		after := time.Now().Unix()
		require.NoError(t, err)

		assert.NotEmpty(t, token.Token)
		assert.Equal(t, "owner-1", token.OwnerID)
		assert.Equal(t, "Alice", token.CalleeName)
		assert.GreaterOrEqual(t, token.CreatedAt, before)
		assert.LessOrEqual(t, token.CreatedAt, after)
		assert.Equal(t, token.CreatedAt+24*3600, token.ExpiresAt)
	})

	t.Run("explicit_lifetime", func(t *testing.T) {
		token, err := service.Create(ctx, "owner-1", "Alice", hours(5))
		require.NoError(t, err)
		assert.Equal(t, token.CreatedAt+5*3600, token.ExpiresAt)
	})

	t.Run("no_expiry", func(t *testing.T) {
		token, err := service.Create(ctx, "owner-1", "Alice", hours(0))
		require.NoError(t, err)
		assert.Zero(t, token.ExpiresAt)
		assert.False(t, token.Expired(time.Now().Unix()+1_000_000_000))
	})

	t.Run("distinct_tokens", func(t *testing.T) {
		first, err := service.Create(ctx, "owner-1", "Alice", nil)
		require.NoError(t, err)
		second, err := service.Create(ctx, "owner-1", "Alice", nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.Token, second.Token)
	})
}

/*
TestService_CreateValidation rejects out-of-range lifetimes and bad display
names.
*/
func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	tests := []struct {
		name       string
		calleeName string
		expiresIn  *int
	}{
		{"negative_lifetime", "Alice", hours(-1)},
		{"above_max_lifetime", "Alice", hours(745)},
		{"empty_name", "", nil},
		{"name_too_long", strings.Repeat("a", 101), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(ctx, "owner-1", tt.calleeName, tt.expiresIn)
			assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))
		})
	}
}

/*
TestService_Resolve covers live resolution, the unknown-token miss, and lazy
expiry: an expired token stops resolving but is not deleted.
*/
func TestService_Resolve(t *testing.T) {
	ctx := context.Background()
	service, store := newService(t)

	created, err := service.Create(ctx, "owner-1", "Alice", nil)
	require.NoError(t, err)

	resolved, err := service.Resolve(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.OwnerID, resolved.OwnerID)

	_, err = service.Resolve(ctx, "no-such-token")
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))

	// Plant an already-expired token directly.
	expired := callurl.Token{
		Token:      "expired-token",
		OwnerID:    "owner-1",
		CalleeName: "Alice",
		CreatedAt:  time.Now().Unix() - 7200,
		ExpiresAt:  time.Now().Unix() - 3600,
	}
	require.NoError(t, store.Add(ctx, expired, "callToken"))

	_, err = service.Resolve(ctx, "expired-token")
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))

	// Lazy expiry leaves the record in place.
	stored, err := store.FindOne(ctx, kvstore.Query{"callToken": "expired-token"})
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func strptr(s string) *string { return &s }

/*
TestService_Update covers attribute mutation, expiry re-basing, and the
not-found versus forbidden distinction.
*/
func TestService_Update(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	created, err := service.Create(ctx, "owner-1", "Alice", hours(2))
	require.NoError(t, err)

	t.Run("rename", func(t *testing.T) {
		updated, err := service.Update(ctx, created.Token, "owner-1", callurl.UpdateFields{
			CalleeName: strptr("Alicia"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Alicia", updated.CalleeName)
		// Expiry untouched.
		assert.Equal(t, created.ExpiresAt, updated.ExpiresAt)
	})

	t.Run("rebase_expiry", func(t *testing.T) {
		before := time.Now().Unix()
		updated, err := service.Update(ctx, created.Token, "owner-1", callurl.UpdateFields{
			ExpiresInHours: hours(10),
		})
		require.NoError(t, err)
		// Expiry is re-based to the update time, not creation time.
		assert.GreaterOrEqual(t, updated.ExpiresAt, before+10*3600)
	})

	t.Run("disable_expiry", func(t *testing.T) {
		updated, err := service.Update(ctx, created.Token, "owner-1", callurl.UpdateFields{
			ExpiresInHours: hours(0),
		})
		require.NoError(t, err)
		assert.Zero(t, updated.ExpiresAt)
	})

	t.Run("unknown_token", func(t *testing.T) {
		_, err := service.Update(ctx, "no-such-token", "owner-1", callurl.UpdateFields{
			CalleeName: strptr("X"),
		})
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
	})

	t.Run("wrong_owner", func(t *testing.T) {
		_, err := service.Update(ctx, created.Token, "owner-2", callurl.UpdateFields{
			CalleeName: strptr("X"),
		})
		assert.True(t, apperr.IsCode(err, "FORBIDDEN"))
	})

	t.Run("invalid_lifetime", func(t *testing.T) {
		_, err := service.Update(ctx, created.Token, "owner-1", callurl.UpdateFields{
			ExpiresInHours: hours(-5),
		})
		assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))
	})
}

/*
TestService_Revoke verifies permanent revocation and ownership enforcement.
*/
func TestService_Revoke(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	created, err := service.Create(ctx, "owner-1", "Alice", nil)
	require.NoError(t, err)

	t.Run("wrong_owner", func(t *testing.T) {
		err := service.Revoke(ctx, created.Token, "owner-2")
		assert.True(t, apperr.IsCode(err, "FORBIDDEN"))
	})

	t.Run("owner", func(t *testing.T) {
		require.NoError(t, service.Revoke(ctx, created.Token, "owner-1"))

		// A revoked token never resolves again.
		_, err := service.Resolve(ctx, created.Token)
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
	})

	t.Run("already_revoked", func(t *testing.T) {
		err := service.Revoke(ctx, created.Token, "owner-1")
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
	})
}

/*
TestService_InvitationURL verifies the shareable URL shape.
*/
func TestService_InvitationURL(t *testing.T) {
	service, _ := newService(t)
	assert.Equal(t, "https://loop.example.com/calls/abc123", service.InvitationURL("abc123"))
}

// revokeRacingStore deletes the matched record just before the write, standing
// in for a revoke landing between the ownership check and the update.
type revokeRacingStore struct {
	kvstore.Store[callurl.Token]
}

func (s *revokeRacingStore) Update(ctx context.Context, match kvstore.Query, record callurl.Token) (int, error) {
	if _, err := s.Store.Delete(ctx, match); err != nil {
		return 0, err
	}
	return s.Store.Update(ctx, match, record)
}

/*
TestService_UpdateConcurrentRevoke verifies that an update racing a revoke
cannot write the record back: revocation is permanent, so the update reports
not-found and the token stays unresolvable.
*/
func TestService_UpdateConcurrentRevoke(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{
		ServerRootURL:       "https://loop.example.com",
		CallURLDefaultHours: 24,
		CallURLMaxHours:     744,
	}
	store := &revokeRacingStore{Store: kvstore.NewMemory[callurl.Token](constants.CollectionCallURLs)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := callurl.NewService(store, cfg, logger)

	created, err := service.Create(ctx, "owner-1", "Alice", hours(2))
	require.NoError(t, err)

	_, err = service.Update(ctx, created.Token, "owner-1", callurl.UpdateFields{
		CalleeName: strptr("Alicia"),
	})
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))

	// The revoked token must not have been resurrected by the update.
	_, err = service.Resolve(ctx, created.Token)
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))

	stored, err := store.FindOne(ctx, kvstore.Query{"callToken": created.Token})
	require.NoError(t, err)
	assert.Nil(t, stored)
}
