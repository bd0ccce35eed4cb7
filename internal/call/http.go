// Copyright (c) 2026 Loop Server. All rights reserved.

package call

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/frsela/loop-server/internal/callurl"
	"github.com/frsela/loop-server/internal/platform/middleware"
	requestutil "github.com/frsela/loop-server/internal/platform/request"
	"github.com/frsela/loop-server/internal/platform/respond"
	"github.com/frsela/loop-server/internal/platform/validate"
)

// Handler exposes call orchestration over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	invites      *callurl.Service
}

// NewHandler constructs the call handler.
func NewHandler(orchestrator *Orchestrator, invites *callurl.Service) *Handler {
	return &Handler{orchestrator: orchestrator, invites: invites}
}

// Routes returns the call route group.
//
// Initiation through an invitation token and the by-id operations are open
// to anonymous callers: the token and the unguessable callId are themselves
// the capabilities. Listing and direct initiation require a session.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/{token}", handler.initiateViaInvite)
	router.Get("/id/{callID}", handler.getCall)
	router.Delete("/id/{callID}", handler.terminateCall)

	router.Group(func(authed chi.Router) {
		authed.Use(middleware.RequireSession)
		authed.Get("/", handler.listCalls)
		authed.Post("/", handler.initiateDirect)
	})

	return router
}

type initiateDirectRequest struct {
	CalleeID []string `json:"callee_id"`
	CallType string   `json:"call_type"`
}

type initiateInviteRequest struct {
	CallType string `json:"call_type"`
}

// defaultedType applies the audio-video default the desktop client relies on.
func defaultedType(raw string) Type {
	if raw == "" {
		return TypeAudioVideo
	}
	return Type(raw)
}

// initiateDirect handles POST /calls.
func (handler *Handler) initiateDirect(writer http.ResponseWriter, request *http.Request) {
	caller, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body initiateDirectRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	results, err := handler.orchestrator.InitiateDirect(request.Context(), caller, body.CalleeID, defaultedType(body.CallType))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{"calls": results})
}

// initiateViaInvite handles POST /calls/{token} — the anonymous invitation path.
func (handler *Handler) initiateViaInvite(writer http.ResponseWriter, request *http.Request) {
	invite, err := handler.invites.Resolve(request.Context(), requestutil.Param(request, "token"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body initiateInviteRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	results, err := handler.orchestrator.InitiateViaInvite(request.Context(), requestutil.Session(request), invite, defaultedType(body.CallType))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{"calls": results})
}

// listCalls handles GET /calls?version=N.
func (handler *Handler) listCalls(writer http.ResponseWriter, request *http.Request) {
	callee, err := requestutil.RequiredSession(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sinceVersion := int64(0)
	if raw := request.URL.Query().Get("version"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respond.Error(writer, request, validate.RequiredError("version", "Must be an integer"))
			return
		}
		sinceVersion = parsed
	}

	summaries, err := handler.orchestrator.ListCalls(request.Context(), callee, sinceVersion)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{"calls": summaries})
}

// getCall handles GET /calls/id/{callID}.
func (handler *Handler) getCall(writer http.ResponseWriter, request *http.Request) {
	record, err := handler.orchestrator.GetCall(request.Context(), requestutil.Param(request, "callID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"callId":    record.CallID,
		"callType":  record.Type,
		"callState": record.State,
	})
}

// terminateCall handles DELETE /calls/id/{callID}.
func (handler *Handler) terminateCall(writer http.ResponseWriter, request *http.Request) {
	if err := handler.orchestrator.TerminateCall(request.Context(), requestutil.Param(request, "callID")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
