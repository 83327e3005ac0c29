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

package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/httplib"
	"github.com/skyware-js/labeler/lib/jwt"
	"github.com/skyware-js/labeler/lib/label"
	"github.com/skyware-js/labeler/lib/sequencer"
	"github.com/skyware-js/labeler/lib/xrpc"
)

// Discriminators of the tagged unions in an emitEvent body.
const (
	eventTypeLabel   = "tools.ozone.moderation.defs#modEventLabel"
	subjectRepoRef   = "com.atproto.admin.defs#repoRef"
	subjectStrongRef = "com.atproto.repo.strongRef"
)

type emitEventRequest struct {
	Event           json.RawMessage `json:"event"`
	Subject         json.RawMessage `json:"subject"`
	SubjectBlobCids []string        `json:"subjectBlobCids"`
	CreatedBy       string          `json:"createdBy"`
}

type emitEventResponse struct {
	ID              int64           `json:"id"`
	Event           json.RawMessage `json:"event"`
	Subject         json.RawMessage `json:"subject"`
	SubjectBlobCids []string        `json:"subjectBlobCids"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       string          `json:"createdAt"`
}

// emitEvent serves tools.ozone.moderation.emitEvent: it authenticates
// the caller, validates the event and expands it into label writes.
func (h *Handler) emitEvent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	claims, err := h.authenticate(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	allowed, err := h.cfg.Authorize(r.Context(), claims.Issuer)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !allowed {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeAuthRequired, "caller %q may not emit moderation events", claims.Issuer))
	}

	var req emitEventRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.CreatedBy == "" {
		return nil, trace.BadParameter("createdBy is required")
	}

	create, negate, err := parseLabelEvent(req.Event)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	subject, err := parseSubject(req.Subject)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	created, err := h.cfg.Sequencer.CreateLabels(r.Context(), subject, create, negate)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	blobCids := req.SubjectBlobCids
	if blobCids == nil {
		blobCids = []string{}
	}
	return emitEventResponse{
		ID:              created[0].ID,
		Event:           req.Event,
		Subject:         req.Subject,
		SubjectBlobCids: blobCids,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       h.cfg.Clock.Now().UTC().Format(label.TimeFormat),
	}, nil
}

// authenticate extracts and verifies the bearer token of an emit
// request.
func (h *Handler) authenticate(r *http.Request) (*jwt.Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeAuthRequired, "missing authorization header"))
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeMissingJwt, "authorization header is not a bearer token"))
	}
	claims, err := h.cfg.TokenVerifier.Verify(r.Context(), token, h.cfg.DID, labeler.EmitEventMethod)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return claims, nil
}

// parseLabelEvent dispatches the event union and returns the label
// values to create and negate. Only modEventLabel is accepted, and it
// must name at least one value.
func parseLabelEvent(raw json.RawMessage) (create, negate []string, err error) {
	if len(raw) == 0 {
		return nil, nil, trace.BadParameter("event is required")
	}
	var event struct {
		Type            string   `json:"$type"`
		CreateLabelVals []string `json:"createLabelVals"`
		NegateLabelVals []string `json:"negateLabelVals"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, nil, trace.BadParameter("bad event: %v", err)
	}
	if event.Type != eventTypeLabel {
		return nil, nil, trace.BadParameter("unsupported event type %q", event.Type)
	}
	if len(event.CreateLabelVals) == 0 && len(event.NegateLabelVals) == 0 {
		return nil, nil, trace.BadParameter("event must name label values to create or negate")
	}
	return event.CreateLabelVals, event.NegateLabelVals, nil
}

// parseSubject dispatches the subject union to the labeled URI.
func parseSubject(raw json.RawMessage) (sequencer.Subject, error) {
	if len(raw) == 0 {
		return sequencer.Subject{}, trace.BadParameter("subject is required")
	}
	var subject struct {
		Type string `json:"$type"`
		DID  string `json:"did"`
		URI  string `json:"uri"`
		CID  string `json:"cid"`
	}
	if err := json.Unmarshal(raw, &subject); err != nil {
		return sequencer.Subject{}, trace.BadParameter("bad subject: %v", err)
	}
	switch subject.Type {
	case subjectRepoRef:
		if subject.DID == "" {
			return sequencer.Subject{}, trace.BadParameter("repoRef subject is missing a did")
		}
		return sequencer.Subject{URI: subject.DID}, nil
	case subjectStrongRef:
		if subject.URI == "" {
			return sequencer.Subject{}, trace.BadParameter("strongRef subject is missing a uri")
		}
		return sequencer.Subject{URI: subject.URI, CID: subject.CID}, nil
	default:
		return sequencer.Subject{}, trace.BadParameter("unsupported subject type %q", subject.Type)
	}
}
