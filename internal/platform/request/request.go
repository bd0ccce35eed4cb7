// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package request provides utilities for extracting data from HTTP requests.

It abstracts away the underlying router's parameter extraction and common
body decoding patterns, ensuring consistent error handling and type safety.
*/
package requestutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/ctxutil"
	"github.com/frsela/loop-server/internal/platform/sec"
	"github.com/frsela/loop-server/internal/platform/validate"
)

/*
DecodeJSON reads the request body and decodes it into the target structure.

An empty body is tolerated and leaves the target zero-valued: several
endpoints (session minting, anonymous calls) treat all fields as optional.
*/
func DecodeJSON(request *http.Request, target interface{}) error {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return validate.ErrInvalidJSON
	}
	return nil
}

/*
Param retrieves a named URL parameter from the request.
*/
func Param(request *http.Request, name string) string {
	return chi.URLParam(request, name)
}

/*
Session extracts the resolved session from the request context.

Returns nil if the request is anonymous.
*/
func Session(request *http.Request) *sec.Session {
	return ctxutil.GetSession(request.Context())
}

/*
RequiredSession ensures the request carries a resolved session.

Returns:
  - *sec.Session: The resolved session.
  - error: apperr.Unauthorized if the request is anonymous.
*/
func RequiredSession(request *http.Request) (*sec.Session, error) {
	session := ctxutil.GetSession(request.Context())
	if session == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	return session, nil
}
