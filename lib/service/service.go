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

// Package service assembles the labeler process: the label store, the
// DID resolver, the sequencer, the subscription broadcaster and the
// XRPC frontend, supervised under one lifecycle.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/backend/lite"
	"github.com/skyware-js/labeler/lib/config"
	"github.com/skyware-js/labeler/lib/defaults"
	"github.com/skyware-js/labeler/lib/did"
	"github.com/skyware-js/labeler/lib/jwt"
	"github.com/skyware-js/labeler/lib/sequencer"
	"github.com/skyware-js/labeler/lib/stream"
	"github.com/skyware-js/labeler/lib/web"
)

// Service is a running labeler process.
type Service struct {
	cfg *config.FileConfig
	log *slog.Logger

	store    backend.Store
	resolver *did.Resolver

	// Sequencer accepts label writes; exposed so embedding programs
	// can emit labels directly.
	Sequencer *sequencer.Sequencer

	web  *http.Server
	diag *http.Server
}

// New assembles a labeler from a loaded configuration. The returned
// service holds an open database; call Run or Close.
func New(ctx context.Context, fc *config.FileConfig) (*Service, error) {
	if fc == nil {
		return nil, trace.BadParameter("missing configuration")
	}
	level := slog.LevelInfo
	if fc.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	log := slog.With(labeler.Component, labeler.ComponentService)

	signingKey, err := did.ParsePrivateKey(fc.SigningKey)
	if err != nil {
		return nil, trace.Wrap(err, "parsing signing key")
	}

	store, err := lite.New(ctx, lite.Config{Path: fc.DatabasePath})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resolver, err := did.NewResolver(did.ResolverConfig{
		PLCDirectoryURL: fc.PLCDirectoryURL,
	})
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}

	broadcaster, err := stream.New(stream.Config{
		Store:     store,
		QueueSize: defaults.SubscriberQueueSize,
	})
	if err != nil {
		store.Close()
		resolver.Close()
		return nil, trace.Wrap(err)
	}

	seq, err := sequencer.New(sequencer.Config{
		DID:        fc.DID,
		SigningKey: signingKey,
		Store:      store,
		Emitter:    broadcaster,
	})
	if err != nil {
		store.Close()
		resolver.Close()
		return nil, trace.Wrap(err)
	}

	verifier, err := jwt.NewVerifier(jwt.VerifierConfig{Resolver: resolver})
	if err != nil {
		store.Close()
		resolver.Close()
		return nil, trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		DID:           fc.DID,
		Store:         store,
		Sequencer:     seq,
		Broadcaster:   broadcaster,
		TokenVerifier: verifier,
	})
	if err != nil {
		store.Close()
		resolver.Close()
		return nil, trace.Wrap(err)
	}

	s := &Service{
		cfg:       fc,
		log:       log,
		store:     store,
		resolver:  resolver,
		Sequencer: seq,
		web: &http.Server{
			Addr:              fc.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if fc.DiagAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.diag = &http.Server{
			Addr:              fc.DiagAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s, nil
}

// Run serves until the context is canceled, then shuts down
// gracefully.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	webListener, err := net.Listen("tcp", s.web.Addr)
	if err != nil {
		return trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Labeler is listening.",
		"addr", webListener.Addr().String(), "did", s.cfg.DID, "version", labeler.Version)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.web.Serve(webListener); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})
	if s.diag != nil {
		diagListener, err := net.Listen("tcp", s.diag.Addr)
		if err != nil {
			s.web.Close()
			return trace.Wrap(err)
		}
		s.log.InfoContext(ctx, "Diagnostics are listening.", "addr", diagListener.Addr().String())
		group.Go(func() error {
			if err := s.diag.Serve(diagListener); !errors.Is(err, http.ErrServerClosed) {
				return trace.Wrap(err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdownServers()
		return nil
	})

	return trace.Wrap(group.Wait())
}

func (s *Service) shutdownServers() {
	ctx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer cancel()
	if err := s.web.Shutdown(ctx); err != nil {
		s.log.WarnContext(ctx, "Frontend shutdown was not clean.", "error", err)
	}
	if s.diag != nil {
		if err := s.diag.Shutdown(ctx); err != nil {
			s.log.WarnContext(ctx, "Diagnostics shutdown was not clean.", "error", err)
		}
	}
}

// Close releases the service's resources. Safe after Run returns.
func (s *Service) Close() error {
	s.resolver.Close()
	return trace.Wrap(s.store.Close())
}
