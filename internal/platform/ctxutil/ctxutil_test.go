// Copyright (c) 2026 Loop Server. All rights reserved.

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frsela/loop-server/internal/platform/ctxutil"
	"github.com/frsela/loop-server/internal/platform/sec"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	ctx = ctxutil.WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies logger injection and the default fallback.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()

	// Without a logger in the context, the global default is returned.
	assert.NotNil(t, ctxutil.GetLogger(ctx))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Same(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_Session verifies session injection and the anonymous nil case.
*/
func TestContext_Session(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.GetSession(ctx))

	session := &sec.Session{SessionID: "abc", Token: "tok"}
	ctx = ctxutil.WithSession(ctx, session)

	got := ctxutil.GetSession(ctx)
	assert.Same(t, session, got)
	assert.Equal(t, "abc", got.Identity())
}
