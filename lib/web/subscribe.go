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
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/skyware-js/labeler/lib/stream"
)

// subscribeLabels serves com.atproto.label.subscribeLabels. The
// optional cursor query parameter resumes the stream; anything that
// does not parse as an integer joins the live tail.
func (h *Handler) subscribeLabels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cursor *int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cursor = &parsed
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.DebugContext(r.Context(), "WebSocket upgrade failed.", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop exists to notice the peer going away; subscribers
	// send nothing after the handshake.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Keepalive pings. WriteControl is safe to call concurrently with
	// the frame writes below.
	go func() {
		ticker := time.NewTicker(h.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	writer := &websocketFrameWriter{conn: conn, timeout: h.cfg.WriteTimeout}
	if err := h.cfg.Broadcaster.Subscribe(ctx, stream.StreamLabels, cursor, writer); err != nil && !errors.Is(err, context.Canceled) {
		h.log.DebugContext(ctx, "Subscription ended.", "error", err)
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// websocketFrameWriter adapts a websocket connection to the
// broadcaster's FrameWriter.
type websocketFrameWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// WriteFrame implements stream.FrameWriter.
func (w *websocketFrameWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}
