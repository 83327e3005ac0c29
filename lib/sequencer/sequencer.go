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

// Package sequencer serializes label writes: it signs drafts, commits
// them to the store and hands them to the broadcaster, all under one
// lock so the broadcast order matches the id order.
package sequencer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/did"
	"github.com/skyware-js/labeler/lib/label"
)

var labelsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "labeler_labels_created_total",
	Help: "Number of labels committed to the log.",
}, []string{"neg"})

// Emitter receives each committed label exactly once, in id order.
// Implemented by the subscription broadcaster.
type Emitter interface {
	EmitLabel(sl backend.StoredLabel)
}

// Config is the sequencer configuration.
type Config struct {
	// DID is the labeler's own DID, the default label source.
	DID string
	// SigningKey signs labels that arrive unsigned.
	SigningKey *did.PrivateKey
	// Store is the append-only label log.
	Store backend.Store
	// Emitter, when set, receives committed labels for fan-out.
	Emitter Emitter
	// Clock supplies creation timestamps.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DID == "" {
		return trace.BadParameter("missing DID")
	}
	if c.SigningKey == nil {
		return trace.BadParameter("missing SigningKey")
	}
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Sequencer owns all write access to the label store.
type Sequencer struct {
	cfg Config
	log *slog.Logger

	// mu makes the append-id assignment and the broadcast enqueue a
	// single atomic step, so subscribers observe ids in order.
	mu sync.Mutex
}

// New returns a Sequencer.
func New(cfg Config) (*Sequencer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Sequencer{
		cfg: cfg,
		log: slog.With(labeler.Component, labeler.ComponentSequencer),
	}, nil
}

// Draft is an unsigned label submission. Src, CTS and Sig may be left
// empty; the sequencer fills them in.
type Draft struct {
	Src string
	URI string
	CID string
	Val string
	Neg bool
	CTS string
	Exp string
	Sig []byte
}

// Subject identifies what a batch of labels applies to.
type Subject struct {
	// URI is an account DID or record URI.
	URI string
	// CID optionally pins a record version.
	CID string
}

// CreateLabel signs (if needed) and commits a single label, returning
// it with its assigned id.
func (s *Sequencer) CreateLabel(ctx context.Context, draft Draft) (backend.StoredLabel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLabelLocked(ctx, draft)
}

// CreateLabels commits one non-negating label per value in create and
// one negating label per value in negate, in that order, all against
// the same subject. Empty inputs yield an empty result.
func (s *Sequencer) CreateLabels(ctx context.Context, subject Subject, create, negate []string) ([]backend.StoredLabel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []backend.StoredLabel{}
	for _, batch := range []struct {
		vals []string
		neg  bool
	}{
		{vals: create, neg: false},
		{vals: negate, neg: true},
	} {
		for _, val := range batch.vals {
			sl, err := s.createLabelLocked(ctx, Draft{
				URI: subject.URI,
				CID: subject.CID,
				Val: val,
				Neg: batch.neg,
			})
			if err != nil {
				return nil, trace.Wrap(err)
			}
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *Sequencer) createLabelLocked(ctx context.Context, draft Draft) (backend.StoredLabel, error) {
	if draft.URI == "" {
		return backend.StoredLabel{}, trace.BadParameter("label subject uri is required")
	}
	if draft.Val == "" {
		return backend.StoredLabel{}, trace.BadParameter("label value is required")
	}
	l := label.Label{
		Ver: label.Version,
		Src: draft.Src,
		URI: draft.URI,
		CID: draft.CID,
		Val: draft.Val,
		Neg: draft.Neg,
		CTS: draft.CTS,
		Exp: draft.Exp,
		Sig: draft.Sig,
	}
	if l.Src == "" {
		l.Src = s.cfg.DID
	}
	if l.CTS == "" {
		l.CTS = s.cfg.Clock.Now().UTC().Format(label.TimeFormat)
	}
	if len(l.Sig) == 0 {
		if err := l.Sign(s.cfg.SigningKey); err != nil {
			return backend.StoredLabel{}, trace.Wrap(err)
		}
	}

	id, err := s.cfg.Store.Append(ctx, &l)
	if err != nil {
		return backend.StoredLabel{}, trace.Wrap(err)
	}
	sl := backend.StoredLabel{ID: id, Label: l}
	if s.cfg.Emitter != nil {
		s.cfg.Emitter.EmitLabel(sl)
	}
	labelsCreated.WithLabelValues(negLabel(l.Neg)).Inc()
	s.log.DebugContext(ctx, "Label committed.", "id", id, "uri", l.URI, "val", l.Val, "neg", l.Neg)
	return sl, nil
}

func negLabel(neg bool) string {
	if neg {
		return "true"
	}
	return "false"
}
