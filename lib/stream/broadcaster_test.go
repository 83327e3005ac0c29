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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/backend/lite"
	"github.com/skyware-js/labeler/lib/label"
	"github.com/skyware-js/labeler/lib/xrpc"
)

// collectWriter records delivered frames and can block or fail on
// demand.
type collectWriter struct {
	mu     sync.Mutex
	frames []*Frame

	gate    chan struct{} // when non-nil, WriteFrame waits on it
	failErr error         // when non-nil, WriteFrame fails
	onWrite func(f *Frame)
}

func (w *collectWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.failErr != nil {
		return w.failErr
	}
	decoded, err := DecodeFrame(frame)
	if err != nil {
		return trace.Wrap(err)
	}
	w.mu.Lock()
	w.frames = append(w.frames, decoded)
	w.mu.Unlock()
	if w.onWrite != nil {
		w.onWrite(decoded)
	}
	return nil
}

// seqs returns the ids of delivered #labels frames, ignoring error
// frames.
func (w *collectWriter) seqs(t *testing.T) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []int64{}
	for _, f := range w.frames {
		if f.Header.Op != OpMessage {
			continue
		}
		body, err := f.DecodeLabelsBody()
		require.NoError(t, err)
		out = append(out, body.Seq)
	}
	return out
}

// lastError returns the code of the final frame if it is an error
// frame.
func (w *collectWriter) lastError(t *testing.T) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		return ""
	}
	last := w.frames[len(w.frames)-1]
	if last.Header.Op != OpError {
		return ""
	}
	body, err := last.DecodeErrorBody()
	require.NoError(t, err)
	return body.Error
}

func (w *collectWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func newTestBroadcaster(t *testing.T, queueSize int) (*Broadcaster, backend.Store) {
	t.Helper()
	store, err := lite.New(context.Background(), lite.Config{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b, err := New(Config{Store: store, QueueSize: queueSize})
	require.NoError(t, err)
	return b, store
}

func appendLabels(t *testing.T, store backend.Store, n int) []backend.StoredLabel {
	t.Helper()
	out := []backend.StoredLabel{}
	for i := range n {
		l := &label.Label{
			Ver: label.Version,
			Src: "did:plc:aaa",
			URI: fmt.Sprintf("did:plc:u%d", i),
			Val: "spam",
			CTS: "2026-08-26T12:00:00.000Z",
			Sig: []byte("sig"),
		}
		id, err := store.Append(context.Background(), l)
		require.NoError(t, err)
		out = append(out, backend.StoredLabel{ID: id, Label: *l})
	}
	return out
}

func cursor(v int64) *int64 { return &v }

func TestSubscribeFutureCursor(t *testing.T) {
	b, store := newTestBroadcaster(t, 16)
	appendLabels(t, store, 5)

	w := &collectWriter{}
	err := b.Subscribe(context.Background(), StreamLabels, cursor(99), w)
	require.Error(t, err)
	require.Equal(t, xrpc.CodeFutureCursor, xrpc.ToError(err).Code)
	require.Equal(t, xrpc.CodeFutureCursor, w.lastError(t))
	require.Empty(t, w.seqs(t))
}

func TestSubscribeReplayThenLive(t *testing.T) {
	b, store := newTestBroadcaster(t, 16)
	appendLabels(t, store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &collectWriter{}
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, StreamLabels, cursor(0), w) }()

	require.Eventually(t, func() bool { return w.count() == 3 }, 5*time.Second, 10*time.Millisecond)

	live := appendLabels(t, store, 1)[0]
	b.EmitLabel(live)

	require.Eventually(t, func() bool { return w.count() == 4 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []int64{1, 2, 3, 4}, w.seqs(t))

	cancel()
	require.NoError(t, <-done)
}

func TestSubscribeNoGapAtCursorBoundary(t *testing.T) {
	b, store := newTestBroadcaster(t, 16)
	stored := appendLabels(t, store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// While the first replayed frame is being written, frames for an
	// id covered by replay and for a brand new id arrive live. The
	// duplicate must be suppressed and the new id delivered after
	// replay, leaving no gap and no duplicate at the boundary.
	w := &collectWriter{}
	var once sync.Once
	var live backend.StoredLabel
	w.onWrite = func(f *Frame) {
		once.Do(func() {
			b.EmitLabel(stored[2])
			live = appendLabels(t, store, 1)[0]
			b.EmitLabel(live)
		})
	}

	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, StreamLabels, cursor(1), w) }()

	require.Eventually(t, func() bool { return len(w.seqs(t)) == 3 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []int64{2, 3, 4}, w.seqs(t))

	cancel()
	require.NoError(t, <-done)
}

func TestSubscribeLiveTailOnly(t *testing.T) {
	b, store := newTestBroadcaster(t, 16)
	appendLabels(t, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &collectWriter{}
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, StreamLabels, nil, w) }()

	// No replay happens without a cursor; wait for registration, then
	// emit.
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.streams[StreamLabels]) == 1
	}, 5*time.Second, 10*time.Millisecond)

	live := appendLabels(t, store, 1)[0]
	b.EmitLabel(live)

	require.Eventually(t, func() bool { return w.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []int64{3}, w.seqs(t))

	cancel()
	require.NoError(t, <-done)
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b, store := newTestBroadcaster(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	w := &collectWriter{gate: gate}
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, StreamLabels, nil, w) }()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.streams[StreamLabels]) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// One frame sits in the blocked writer, two fill the queue, the
	// fourth overflows and evicts.
	for _, sl := range appendLabels(t, store, 4) {
		b.EmitLabel(sl)
	}
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.streams[StreamLabels]) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Release the writer; the loop drains what was queued, then
	// reports the eviction.
	close(gate)
	err := <-done
	require.Error(t, err)
	require.Equal(t, xrpc.CodeConsumerTooSlow, xrpc.ToError(err).Code)
	require.Equal(t, xrpc.CodeConsumerTooSlow, w.lastError(t))
}

func TestSubscriberFailureIsIsolated(t *testing.T) {
	b, store := newTestBroadcaster(t, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthy := &collectWriter{}
	broken := &collectWriter{failErr: trace.ConnectionProblem(nil, "peer went away")}

	healthyDone := make(chan error, 1)
	brokenDone := make(chan error, 1)
	go func() { healthyDone <- b.Subscribe(ctx, StreamLabels, nil, healthy) }()
	go func() { brokenDone <- b.Subscribe(ctx, StreamLabels, nil, broken) }()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.streams[StreamLabels]) == 2
	}, 5*time.Second, 10*time.Millisecond)

	for _, sl := range appendLabels(t, store, 2) {
		b.EmitLabel(sl)
	}

	require.Error(t, <-brokenDone)
	require.Eventually(t, func() bool { return healthy.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []int64{1, 2}, healthy.seqs(t))

	cancel()
	require.NoError(t, <-healthyDone)
}
