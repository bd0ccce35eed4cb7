// Copyright (c) 2026 Loop Server. All rights reserved.

package callurl

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frsela/loop-server/internal/platform/middleware"
	requestutil "github.com/frsela/loop-server/internal/platform/request"
	"github.com/frsela/loop-server/internal/platform/respond"
)

// Handler exposes the call-URL lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs the call-URL handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the call-URL route group.
//
// Resolution is public (invitation pages are viewed by unauthenticated
// visitors); everything else requires a resolved session.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/{token}", handler.resolve)

	router.Group(func(authed chi.Router) {
		authed.Use(middleware.RequireSession)
		authed.Post("/", handler.create)
		authed.Put("/{token}", handler.update)
		authed.Delete("/{token}", handler.revoke)
	})

	return router
}

type createTokenRequest struct {
	CalleeFriendlyName string `json:"callee_friendly_name"`
	ExpiresIn          *int   `json:"expires_in"`
}

type updateTokenRequest struct {
	CalleeFriendlyName *string `json:"callee_friendly_name"`
	ExpiresIn          *int    `json:"expires_in"`
}

type tokenResponse struct {
	CallURL            string `json:"call_url"`
	CallToken          string `json:"call_token"`
	CalleeFriendlyName string `json:"callee_friendly_name"`
	ExpiresAt          int64  `json:"expires_at,omitempty"`
}

// create handles POST /call-url.
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	caller, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body createTokenRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	token, err := handler.service.Create(request.Context(), caller.Identity(), body.CalleeFriendlyName, body.ExpiresIn)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, handler.toResponse(token))
}

// resolve handles GET /call-url/{token} — the public invitation lookup.
// Only the display name is exposed; owner identity never leaves the server.
func (handler *Handler) resolve(writer http.ResponseWriter, request *http.Request) {
	token, err := handler.service.Resolve(request.Context(), requestutil.Param(request, "token"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		"callee_friendly_name": token.CalleeName,
	})
}

// update handles PUT /call-url/{token}.
func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	caller, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body updateTokenRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	token, err := handler.service.Update(request.Context(), requestutil.Param(request, "token"), caller.Identity(), UpdateFields{
		CalleeName:     body.CalleeFriendlyName,
		ExpiresInHours: body.ExpiresIn,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, handler.toResponse(token))
}

// revoke handles DELETE /call-url/{token}.
func (handler *Handler) revoke(writer http.ResponseWriter, request *http.Request) {
	caller, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.Revoke(request.Context(), requestutil.Param(request, "token"), caller.Identity()); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

func (handler *Handler) toResponse(token *Token) tokenResponse {
	return tokenResponse{
		CallURL:            handler.service.InvitationURL(token.Token),
		CallToken:          token.Token,
		CalleeFriendlyName: token.CalleeName,
		ExpiresAt:          token.ExpiresAt,
	}
}
