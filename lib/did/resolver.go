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

package did

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jellydator/ttlcache/v3"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/defaults"
)

// verificationMethod is a public key entry in a DID document.
type verificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// document is the subset of a DID document the labeler reads.
type document struct {
	ID                 string               `json:"id"`
	VerificationMethod []verificationMethod `json:"verificationMethod"`
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Client is the HTTP client used for document fetches.
	Client *http.Client
	// PLCDirectoryURL is the base URL of the did:plc directory.
	PLCDirectoryURL string
	// CacheTTL is how long resolved keys stay cached.
	CacheTTL time.Duration
	// FetchTimeout bounds a single document fetch.
	FetchTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ResolverConfig) CheckAndSetDefaults() error {
	if c.PLCDirectoryURL == "" {
		c.PLCDirectoryURL = defaults.PLCDirectoryURL
	}
	if _, err := url.Parse(c.PLCDirectoryURL); err != nil {
		return trace.BadParameter("bad PLC directory URL: %v", err)
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.DIDCacheTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaults.DIDResolutionTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.FetchTimeout}
	}
	return nil
}

// Resolver resolves DIDs to atproto signing keys, caching positive
// results in memory. Entries are immutable between insert and
// eviction; a forced refresh bypasses the cached entry and replaces it
// on success.
type Resolver struct {
	cfg   ResolverConfig
	cache *ttlcache.Cache[string, *PublicKey]
	log   *slog.Logger
}

// NewResolver returns a running Resolver. Call Close to release the
// cache janitor.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	cache := ttlcache.New[string, *PublicKey](
		ttlcache.WithTTL[string, *PublicKey](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *PublicKey](),
	)
	go cache.Start()
	return &Resolver{
		cfg:   cfg,
		cache: cache,
		log:   slog.With(labeler.Component, labeler.ComponentResolver),
	}, nil
}

// Close stops the cache janitor.
func (r *Resolver) Close() {
	r.cache.Stop()
}

// ResolveSigningKey resolves a DID to its atproto signing key. When
// refresh is set the cached entry is discarded and the document is
// fetched again.
func (r *Resolver) ResolveSigningKey(ctx context.Context, did string, refresh bool) (*PublicKey, error) {
	if refresh {
		r.cache.Delete(did)
	} else if item := r.cache.Get(did); item != nil {
		return item.Value(), nil
	}
	key, err := r.fetchSigningKey(ctx, did)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r.cache.Set(did, key, ttlcache.DefaultTTL)
	return key, nil
}

func (r *Resolver) fetchSigningKey(ctx context.Context, did string) (*PublicKey, error) {
	docURL, err := r.documentURL(did)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "fetching DID document for %q", did)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, trace.ConnectionProblem(nil, "DID document fetch for %q returned status %d", did, resp.StatusCode)
	}
	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, trace.BadParameter("bad DID document for %q: %v", did, err)
	}
	for _, vm := range doc.VerificationMethod {
		if vm.ID != did+"#atproto" && vm.ID != "#atproto" {
			continue
		}
		if vm.PublicKeyMultibase == "" {
			return nil, trace.BadParameter("verification method %q has no publicKeyMultibase", vm.ID)
		}
		key, err := ParseMultibaseKey(vm.PublicKeyMultibase)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		r.log.DebugContext(ctx, "Resolved atproto signing key.", "did", did, "key", key.DIDKey())
		return key, nil
	}
	return nil, trace.NotFound("DID document for %q has no atproto verification method", did)
}

func (r *Resolver) documentURL(did string) (string, error) {
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		return strings.TrimSuffix(r.cfg.PLCDirectoryURL, "/") + "/" + url.PathEscape(did), nil
	case strings.HasPrefix(did, "did:web:"):
		host, err := url.QueryUnescape(strings.TrimPrefix(did, "did:web:"))
		if err != nil || host == "" || strings.ContainsAny(host, "/?#") {
			return "", trace.BadParameter("bad did:web identifier %q", did)
		}
		return "https://" + host + "/.well-known/did.json", nil
	default:
		return "", trace.BadParameter("unsupported DID method in %q", did)
	}
}
