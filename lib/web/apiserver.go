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

// Package web is the labeler's XRPC frontend: the historical query
// endpoint, the authenticated emit endpoint, the WebSocket label
// stream and the health probe.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/defaults"
	"github.com/skyware-js/labeler/lib/httplib"
	"github.com/skyware-js/labeler/lib/jwt"
	"github.com/skyware-js/labeler/lib/label"
	"github.com/skyware-js/labeler/lib/sequencer"
	"github.com/skyware-js/labeler/lib/stream"
	"github.com/skyware-js/labeler/lib/xrpc"
)

// Config is the frontend configuration.
type Config struct {
	// DID is the labeler's own DID, the audience of emit tokens.
	DID string
	// Version is reported by the health probe.
	Version string
	// Store serves historical queries and the health probe.
	Store backend.Store
	// Sequencer commits emitted labels.
	Sequencer *sequencer.Sequencer
	// Broadcaster serves label subscriptions.
	Broadcaster *stream.Broadcaster
	// TokenVerifier verifies inter-service JWTs on the emit endpoint.
	TokenVerifier *jwt.Verifier
	// Authorize decides whether an authenticated caller may emit
	// events. Defaults to allowing only the labeler itself.
	Authorize func(ctx context.Context, did string) (bool, error)
	// Clock supplies response timestamps.
	Clock clockwork.Clock
	// KeepAliveInterval is the subscription ping cadence.
	KeepAliveInterval time.Duration
	// WriteTimeout bounds a single subscriber frame write.
	WriteTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DID == "" {
		return trace.BadParameter("missing DID")
	}
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Sequencer == nil {
		return trace.BadParameter("missing Sequencer")
	}
	if c.Broadcaster == nil {
		return trace.BadParameter("missing Broadcaster")
	}
	if c.TokenVerifier == nil {
		return trace.BadParameter("missing TokenVerifier")
	}
	if c.Version == "" {
		c.Version = labeler.Version
	}
	if c.Authorize == nil {
		own := c.DID
		c.Authorize = func(ctx context.Context, did string) (bool, error) {
			return did == own, nil
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.SubscriberWriteTimeout
	}
	return nil
}

// Handler routes the fixed XRPC surface of the labeler.
type Handler struct {
	*httprouter.Router
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns the frontend handler.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		Router: httprouter.New(),
		cfg:    cfg,
		log:    slog.With(labeler.Component, labeler.ComponentWeb),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	h.GET("/xrpc/"+labeler.QueryLabelsMethod, httplib.MakeHandler(h.queryLabels))
	h.POST("/xrpc/"+labeler.EmitEventMethod, httplib.MakeHandler(h.emitEvent))
	h.GET("/xrpc/"+labeler.SubscribeLabelsMethod, h.subscribeLabels)
	h.GET("/xrpc/_health", h.health)
	h.Router.NotFound = http.HandlerFunc(h.notFound)
	return h, nil
}

// notFound answers unknown /xrpc/ routes with MethodNotImplemented per
// the XRPC contract, and everything else with a plain 404.
func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/xrpc/") {
		httplib.ReplyError(w, xrpc.NewError(xrpc.CodeMethodNotImplemented, "method %q is not implemented", strings.TrimPrefix(r.URL.Path, "/xrpc/")))
		return
	}
	http.NotFound(w, r)
}

type queryLabelsResponse struct {
	Cursor string        `json:"cursor"`
	Labels []label.Label `json:"labels"`
}

// queryLabels serves com.atproto.label.queryLabels.
func (h *Handler) queryLabels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	values := r.URL.Query()

	limit := defaults.QueryLimit
	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, trace.BadParameter("limit must be an integer")
		}
		if parsed < 1 || parsed > defaults.MaxQueryLimit {
			return nil, trace.BadParameter("limit must be between 1 and %d", defaults.MaxQueryLimit)
		}
		limit = parsed
	}

	var afterID int64
	if raw := values.Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return nil, trace.BadParameter("cursor must be a non-negative integer")
		}
		afterID = parsed
	}

	patterns := values["uriPatterns"]
	for _, p := range patterns {
		if _, err := backend.CompilePattern(p); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	stored, err := h.cfg.Store.Query(r.Context(), backend.QueryParams{
		URIPatterns: patterns,
		Sources:     values["sources"],
		AfterID:     afterID,
		Limit:       limit,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resp := queryLabelsResponse{Cursor: "0", Labels: []label.Label{}}
	for _, sl := range stored {
		resp.Labels = append(resp.Labels, sl.Label)
	}
	if len(stored) > 0 {
		resp.Cursor = strconv.FormatInt(stored[len(stored)-1].ID, 10)
	}
	return resp, nil
}

type healthResponse struct {
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

// health reports 200 with the version when the store answers, 503
// otherwise.
func (h *Handler) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := healthResponse{Version: h.cfg.Version}
	if _, err := h.cfg.Store.MaxID(r.Context()); err != nil {
		h.log.WarnContext(r.Context(), "Health probe failed.", "error", err)
		resp.Error = "label store is unavailable"
		httplib.ReplyJSON(w, xrpc.StatusCode(xrpc.CodeServiceUnavailable), resp)
		return
	}
	httplib.ReplyJSON(w, http.StatusOK, resp)
}
