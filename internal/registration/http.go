// Copyright (c) 2026 Loop Server. All rights reserved.

package registration

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frsela/loop-server/internal/platform/middleware"
	requestutil "github.com/frsela/loop-server/internal/platform/request"
	"github.com/frsela/loop-server/internal/platform/respond"
)

// Handler exposes endpoint registration over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs the registration handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the registration route group. Both operations mutate the
// caller's endpoint set, so both require a resolved session.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequireSession)
	router.Post("/", handler.register)
	router.Delete("/", handler.unregister)
	return router
}

type registrationRequest struct {
	SimplePushURL string `json:"simple_push_url"`
}

// register handles POST /registration.
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	caller, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body registrationRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.Register(request.Context(), caller, body.SimplePushURL); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{"simple_push_url": body.SimplePushURL})
}

// unregister handles DELETE /registration.
func (handler *Handler) unregister(writer http.ResponseWriter, request *http.Request) {
	caller, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body registrationRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.Unregister(request.Context(), caller, body.SimplePushURL); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
