/*
 * Labeler
 * Copyright (C) 2026  Skyware
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package httplib implements common utility functions for the
// labeler's XRPC HTTP handlers.
package httplib

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/skyware-js/labeler/lib/xrpc"
)

// maxBodySize bounds request bodies read by ReadJSON.
const maxBodySize = 1 << 20

// HandlerFunc is an HTTP handler function that returns a JSON-able
// result or an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler returns an httprouter.Handle from a handler func.
// Errors, including panics, leave as {error, message} JSON bodies with
// the status the error code maps to.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(r.Context(), "Recovered from panic in request handler.", "panic", rec, "path", r.URL.Path)
				ReplyError(w, xrpc.NewError(xrpc.CodeInternalServerError, "internal server error"))
			}
		}()
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		ReplyJSON(w, http.StatusOK, out)
	}
}

// ReadJSON reads an HTTP JSON request body into val.
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return trace.BadParameter("bad request body: %v", err)
	}
	return nil
}

// ReplyJSON writes a JSON response with the given status.
func ReplyJSON(w http.ResponseWriter, status int, val any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(val); err != nil {
		slog.Debug("Could not encode JSON response.", "error", err)
	}
}

// ReplyError writes an error as the {error, message} JSON body the
// XRPC contract expects.
func ReplyError(w http.ResponseWriter, err error) {
	xe := xrpc.ToError(err)
	ReplyJSON(w, xrpc.StatusCode(xe.Code), xe)
}
