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

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/defaults"
	"github.com/skyware-js/labeler/lib/label"
	"github.com/skyware-js/labeler/lib/xrpc"
)

// StreamLabels is the name of the label stream in the live set. The
// set is indexed by stream name so one broadcaster can carry further
// streams later.
const StreamLabels = "labels"

var (
	activeSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "labeler_stream_subscribers",
		Help: "Currently connected subscribers per stream.",
	}, []string{"stream"})
	evictedSubscribers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labeler_stream_evictions_total",
		Help: "Subscribers dropped for not keeping up.",
	}, []string{"stream"})
)

// FrameWriter delivers a single wire frame to a subscriber transport.
// Implementations must honor context cancellation.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// queuedFrame is a marshaled frame tagged with its log id so the
// delivery loop can discard frames already covered by replay.
type queuedFrame struct {
	seq  int64
	data []byte
}

// subscriber is one live connection. Its channel is closed only by the
// broadcaster, under the broadcaster lock, after removal from the live
// set; a closed channel tells the delivery loop it was evicted.
type subscriber struct {
	ch chan queuedFrame
}

// Config is the broadcaster configuration.
type Config struct {
	// Store replays history for subscribers that join with a cursor.
	Store backend.Store
	// QueueSize bounds the per-subscriber frame queue.
	QueueSize int
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.SubscriberQueueSize
	}
	return nil
}

// Broadcaster fans labels out to live subscribers in id order.
type Broadcaster struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	streams map[string]map[*subscriber]struct{}
}

// New returns a Broadcaster.
func New(cfg Config) (*Broadcaster, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Broadcaster{
		cfg:     cfg,
		log:     slog.With(labeler.Component, labeler.ComponentStream),
		streams: make(map[string]map[*subscriber]struct{}),
	}, nil
}

// EmitLabel implements sequencer.Emitter: it frames the label once and
// enqueues it for every live subscriber. A full queue evicts its
// subscriber instead of blocking the write path.
func (b *Broadcaster) EmitLabel(sl backend.StoredLabel) {
	frame, err := MarshalLabelsFrame(sl.ID, []label.Label{sl.Label})
	if err != nil {
		b.log.Error("Dropping unencodable label frame.", "id", sl.ID, "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.streams[StreamLabels] {
		select {
		case sub.ch <- queuedFrame{seq: sl.ID, data: frame}:
		default:
			b.removeLocked(StreamLabels, sub)
			close(sub.ch)
			evictedSubscribers.WithLabelValues(StreamLabels).Inc()
		}
	}
}

// Subscribe runs a subscriber until its context ends, the transport
// fails, or the subscriber is evicted. A nil cursor joins the live
// tail; otherwise history after the cursor is replayed first, with no
// gap and no duplicate at the boundary.
func (b *Broadcaster) Subscribe(ctx context.Context, stream string, cursor *int64, w FrameWriter) error {
	if cursor != nil {
		maxID, err := b.cfg.Store.MaxID(ctx)
		if err != nil {
			b.writeErrorFrame(ctx, w, xrpc.CodeInternalServerError, "stream position unavailable")
			return trace.Wrap(err)
		}
		if *cursor > maxID {
			werr := xrpc.NewError(xrpc.CodeFutureCursor, "cursor %d is ahead of the stream (max %d)", *cursor, maxID)
			b.writeErrorFrame(ctx, w, werr.Code, werr.Message)
			return trace.Wrap(werr)
		}
	}

	// Register before replay: frames committed while history streams
	// pile up in the queue and are deduplicated against the replay
	// below, so the cursor boundary has no gap.
	sub := &subscriber{ch: make(chan queuedFrame, b.cfg.QueueSize)}
	b.add(stream, sub)
	defer b.remove(stream, sub)

	var lastSent int64
	if cursor != nil {
		lastSent = *cursor
		var writeFailed bool
		err := b.cfg.Store.Scan(ctx, *cursor, func(sl backend.StoredLabel) error {
			frame, err := MarshalLabelsFrame(sl.ID, []label.Label{sl.Label})
			if err != nil {
				return trace.Wrap(err)
			}
			if err := w.WriteFrame(ctx, frame); err != nil {
				writeFailed = true
				return trace.Wrap(err)
			}
			lastSent = sl.ID
			return nil
		})
		if err != nil {
			if !writeFailed {
				b.writeErrorFrame(ctx, w, xrpc.CodeInternalServerError, "label replay failed")
			}
			return trace.Wrap(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-sub.ch:
			if !ok {
				werr := xrpc.NewError(xrpc.CodeConsumerTooSlow, "subscriber is not keeping up with the stream")
				b.writeErrorFrame(ctx, w, werr.Code, werr.Message)
				return trace.Wrap(werr)
			}
			if f.seq <= lastSent {
				continue
			}
			if err := w.WriteFrame(ctx, f.data); err != nil {
				return trace.Wrap(err)
			}
			lastSent = f.seq
		}
	}
}

func (b *Broadcaster) add(stream string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams[stream] == nil {
		b.streams[stream] = make(map[*subscriber]struct{})
	}
	b.streams[stream][sub] = struct{}{}
	activeSubscribers.WithLabelValues(stream).Inc()
}

func (b *Broadcaster) remove(stream string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(stream, sub)
}

func (b *Broadcaster) removeLocked(stream string, sub *subscriber) {
	if _, ok := b.streams[stream][sub]; !ok {
		return
	}
	delete(b.streams[stream], sub)
	activeSubscribers.WithLabelValues(stream).Dec()
}

func (b *Broadcaster) writeErrorFrame(ctx context.Context, w FrameWriter, code, message string) {
	frame, err := MarshalErrorFrame(code, message)
	if err != nil {
		return
	}
	if err := w.WriteFrame(ctx, frame); err != nil {
		b.log.DebugContext(ctx, "Could not deliver error frame.", "code", code, "error", err)
	}
}
