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

// Package xrpc defines the wire-level error taxonomy of the labeler.
//
// Every error leaving the service, whether as an HTTP JSON body or as
// a framed WebSocket error, is one of the codes below. Internal errors
// carry trace classification; ToError converts them at the shell.
package xrpc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gravitational/trace"
)

// Wire error codes.
const (
	CodeInvalidRequest       = "InvalidRequest"
	CodeAuthRequired         = "AuthRequired"
	CodeMissingJwt           = "MissingJwt"
	CodeBadJwt               = "BadJwt"
	CodeJwtExpired           = "JwtExpired"
	CodeBadJwtAudience       = "BadJwtAudience"
	CodeBadJwtLexiconMethod  = "BadJwtLexiconMethod"
	CodeBadJwtSignature      = "BadJwtSignature"
	CodeFutureCursor         = "FutureCursor"
	CodeConsumerTooSlow      = "ConsumerTooSlow"
	CodeMethodNotImplemented = "MethodNotImplemented"
	CodeInternalServerError  = "InternalServerError"
	CodeServiceUnavailable   = "ServiceUnavailable"
)

// Error is a wire-visible XRPC error. It marshals directly into the
// {error, message} JSON body the protocol expects.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError returns a wire error with the given code and message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// statusCodes maps wire error codes to HTTP statuses. WebSocket
// streams carry only the code, framed.
var statusCodes = map[string]int{
	CodeInvalidRequest:       http.StatusBadRequest,
	CodeAuthRequired:         http.StatusUnauthorized,
	CodeMissingJwt:           http.StatusUnauthorized,
	CodeBadJwt:               http.StatusUnauthorized,
	CodeJwtExpired:           http.StatusUnauthorized,
	CodeBadJwtAudience:       http.StatusUnauthorized,
	CodeBadJwtLexiconMethod:  http.StatusUnauthorized,
	CodeBadJwtSignature:      http.StatusUnauthorized,
	CodeFutureCursor:         http.StatusBadRequest,
	CodeMethodNotImplemented: http.StatusNotImplemented,
	CodeInternalServerError:  http.StatusInternalServerError,
	CodeServiceUnavailable:   http.StatusServiceUnavailable,
}

// StatusCode returns the HTTP status for a wire error code.
func StatusCode(code string) int {
	if status, ok := statusCodes[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ToError converts any error into a wire error. Errors already carrying
// a code pass through; trace classifications map to their closest wire
// counterpart; anything else becomes InternalServerError with the
// message suppressed so internals do not leak.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	var xe *Error
	if errors.As(err, &xe) {
		return xe
	}
	switch {
	case trace.IsBadParameter(err):
		return &Error{Code: CodeInvalidRequest, Message: trace.UserMessage(err)}
	case trace.IsAccessDenied(err):
		return &Error{Code: CodeAuthRequired, Message: trace.UserMessage(err)}
	case trace.IsNotImplemented(err):
		return &Error{Code: CodeMethodNotImplemented, Message: trace.UserMessage(err)}
	case trace.IsConnectionProblem(err):
		return &Error{Code: CodeServiceUnavailable, Message: trace.UserMessage(err)}
	default:
		return &Error{Code: CodeInternalServerError, Message: "internal server error"}
	}
}
