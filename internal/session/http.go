// Copyright (c) 2026 Loop Server. All rights reserved.

package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/frsela/loop-server/internal/platform/request"
	"github.com/frsela/loop-server/internal/platform/respond"
)

// Handler exposes session establishment over HTTP.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs the session handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Routes returns the session route group.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Post("/", handler.createSession)
	return router
}

type createSessionRequest struct {
	// Assertion is a signed identity assertion. Omitted for anonymous sessions.
	Assertion string `json:"assertion"`
}

type sessionResponse struct {
	SessionToken string `json:"sessionToken"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId,omitempty"`
}

// createSession handles POST /session.
//
// Without an assertion it mints an anonymous session; with one it verifies
// the assertion and returns a bound session. Either way the response carries
// the opaque credential every other endpoint consumes.
func (handler *Handler) createSession(writer http.ResponseWriter, request *http.Request) {
	var body createSessionRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if body.Assertion != "" {
		session, err := handler.resolver.ResolveVerifiedIdentity(request.Context(), body.Assertion)
		if err != nil {
			respond.Error(writer, request, err)
			return
		}
		respond.Created(writer, sessionResponse{
			SessionToken: session.Token,
			SessionID:    session.SessionID,
			UserID:       session.UserID,
		})
		return
	}

	session, err := handler.resolver.MintSession(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, sessionResponse{
		SessionToken: session.Token,
		SessionID:    session.SessionID,
	})
}
