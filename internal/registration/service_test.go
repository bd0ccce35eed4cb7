// Copyright (c) 2026 Loop Server. All rights reserved.

package registration_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/sec"
	"github.com/frsela/loop-server/internal/registration"
)

func newService(t *testing.T) *registration.Service {
	t.Helper()

	cfg := &config.Config{IdentitySecret: "test-identity-secret"}
	store := kvstore.NewMemory[registration.Record](constants.CollectionRegistrations)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registration.NewService(store, cfg, logger)
}

/*
TestService_RegisterAndList covers the register/list roundtrip and identity
scoping of the endpoint set.
*/
func TestService_RegisterAndList(t *testing.T) {
	ctx := context.Background()
	service := newService(t)

	alice := &sec.Session{SessionID: "alice-session"}
	bob := &sec.Session{SessionID: "bob-session"}

	require.NoError(t, service.Register(ctx, alice, "https://push.example.com/ch/1"))
	require.NoError(t, service.Register(ctx, alice, "https://push.example.com/ch/2"))
	require.NoError(t, service.Register(ctx, bob, "https://push.example.com/ch/3"))

	endpoints, err := service.EndpointsFor(ctx, alice.Identity())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://push.example.com/ch/1",
		"https://push.example.com/ch/2",
	}, endpoints)

	// An identity with no registrations yields an empty set, not an error.
	none, err := service.EndpointsFor(ctx, "unknown-identity")
	require.NoError(t, err)
	assert.Empty(t, none)
}

/*
TestService_RegisterDuplicate verifies that re-registering the same endpoint
for the same identity is a conflict, while the same endpoint under another
identity is accepted.
*/
func TestService_RegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	service := newService(t)

	alice := &sec.Session{SessionID: "alice-session"}
	bob := &sec.Session{SessionID: "bob-session"}

	require.NoError(t, service.Register(ctx, alice, "https://push.example.com/ch/1"))

	err := service.Register(ctx, alice, "https://push.example.com/ch/1")
	assert.True(t, apperr.IsCode(err, "CONFLICT"))

	assert.NoError(t, service.Register(ctx, bob, "https://push.example.com/ch/1"))
}

/*
TestService_RegisterValidation rejects endpoints that are not absolute
http(s) URLs.
*/
func TestService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	service := newService(t)
	alice := &sec.Session{SessionID: "alice-session"}

	tests := []struct {
		name     string
		endpoint string
	}{
		{"empty", ""},
		{"relative", "/ch/1"},
		{"wrong_scheme", "ftp://push.example.com/ch/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.Register(ctx, alice, tt.endpoint)
			assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))
		})
	}
}

/*
TestService_Unregister covers removal and the unknown-endpoint miss.
*/
func TestService_Unregister(t *testing.T) {
	ctx := context.Background()
	service := newService(t)
	alice := &sec.Session{SessionID: "alice-session"}

	require.NoError(t, service.Register(ctx, alice, "https://push.example.com/ch/1"))
	require.NoError(t, service.Unregister(ctx, alice, "https://push.example.com/ch/1"))

	endpoints, err := service.EndpointsFor(ctx, alice.Identity())
	require.NoError(t, err)
	assert.Empty(t, endpoints)

	err = service.Unregister(ctx, alice, "https://push.example.com/ch/1")
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
}

/*
TestService_BoundSessionScoping verifies that a bound session's endpoints are
keyed by the user identity, so every device of one user shares the set.
*/
func TestService_BoundSessionScoping(t *testing.T) {
	ctx := context.Background()
	service := newService(t)

	deviceOne := &sec.Session{SessionID: "session-1", UserID: "user-1"}
	deviceTwo := &sec.Session{SessionID: "session-2", UserID: "user-1"}

	require.NoError(t, service.Register(ctx, deviceOne, "https://push.example.com/ch/1"))
	require.NoError(t, service.Register(ctx, deviceTwo, "https://push.example.com/ch/2"))

	endpoints, err := service.EndpointsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)
}
