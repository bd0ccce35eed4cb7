// Copyright (c) 2026 Loop Server. All rights reserved.

// Session authentication middleware.
//
// # Architecture
//
// The middleware intercepts the opaque session credential carried in the
// Authorization header and swaps it for a resolved pseudonymous identity
// before any domain handler runs. Handlers never see the raw credential
// except through [sec.Session].
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/ctxkey"
	"github.com/frsela/loop-server/internal/platform/ctxutil"
	"github.com/frsela/loop-server/internal/platform/respond"
	"github.com/frsela/loop-server/internal/platform/sec"
)

// SessionResolver defines the interface needed to resolve session credentials.
//
// # Why an interface?
//
// Defining SessionResolver here decouples the middleware from the session
// service implementation, allowing us to easily inject fakes during unit testing.
type SessionResolver interface {
	ResolveSession(ctx context.Context, credential string) (*sec.Session, error)
}

// Authenticate resolves the session credential from the Authorization header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <credential>' header.
//  2. If absent, request proceeds as anonymous.
//  3. If present, resolve (and lazily provision) the session via [SessionResolver].
//  4. Inject [*sec.Session] into the request context for downstream use.
//
// A credential the server has never seen mints a fresh session rather than
// failing: the credential space is opaque to the server and the identity is
// derived from it deterministically either way. The response echoes the
// credential in X-Session-Token whenever a record was provisioned, so clients
// learn their session is live.
func Authenticate(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get(constants.HeaderAuthorization)

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
				return
			}

			// ── 3. Credential Resolution ──────────────────────────────────────
			credential := parts[1]
			session, err := resolver.ResolveSession(request.Context(), credential)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}

			if session.New {
				writer.Header().Set(constants.HeaderXSessionToken, session.Token)
			}

			// ── 4. Context Injection ──────────────────────────────────────────
			ctx := context.WithValue(request.Context(), ctxkey.KeySession, session)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireSession blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate].
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if ctxutil.GetSession(request.Context()) == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}
