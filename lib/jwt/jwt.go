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

// Package jwt verifies atproto inter-service authentication tokens.
//
// A service token is a compact JWT whose issuer is a DID. The
// signature is checked against the issuer's atproto signing key from
// its DID document, with a forced re-resolution retry so recently
// rotated keys still verify.
package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/skyware-js/labeler/lib/did"
	"github.com/skyware-js/labeler/lib/xrpc"
)

// KeyResolver resolves a DID to its atproto signing key. Implemented
// by *did.Resolver.
type KeyResolver interface {
	ResolveSigningKey(ctx context.Context, did string, refresh bool) (*did.PublicKey, error)
}

// Claims is the verified payload of a service token.
type Claims struct {
	// Issuer is the DID of the calling service.
	Issuer string
	// Audience is the DID the token was minted for.
	Audience string
	// Expires is the expiry as Unix seconds.
	Expires int64
	// LexiconMethod is the XRPC method the token is scoped to, if any.
	LexiconMethod string
	// Nonce is an optional replay nonce.
	Nonce string
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Resolver resolves issuer DIDs to signing keys.
	Resolver KeyResolver
	// Clock is used for expiry checks.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *VerifierConfig) CheckAndSetDefaults() error {
	if c.Resolver == nil {
		return trace.BadParameter("missing Resolver")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Verifier verifies service tokens.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier returns a Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Verifier{cfg: cfg}, nil
}

var unverifiedParser = gojwt.NewParser()

// Verify checks the token and returns its claims. audience and lxm,
// when non-empty, must match the corresponding claims. All failures
// carry one of the BadJwt* wire codes.
func (v *Verifier) Verify(ctx context.Context, token, audience, lxm string) (*Claims, error) {
	_, parts, err := unverifiedParser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "malformed JWT"))
	}
	claims, err := decodeClaims(parts[1])
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if v.cfg.Clock.Now().After(time.Unix(claims.Expires, 0)) {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeJwtExpired, "JWT has expired"))
	}
	if audience != "" && claims.Audience != audience {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwtAudience, "JWT audience %q does not match %q", claims.Audience, audience))
	}
	if lxm != "" && claims.LexiconMethod != lxm {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwtLexiconMethod, "JWT is not scoped to method %q", lxm))
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "malformed JWT signature encoding"))
	}
	signed := []byte(parts[0] + "." + parts[1])

	key, err := v.cfg.Resolver.ResolveSigningKey(ctx, claims.Issuer, false)
	if err != nil {
		// The cold path already hit the source of truth; retrying with
		// a forced refresh only matters when the cache was primed.
		if key, err = v.cfg.Resolver.ResolveSigningKey(ctx, claims.Issuer, true); err != nil {
			return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwtSignature, "could not resolve signing key for %q", claims.Issuer))
		}
	}
	if key.Verify(signed, sig) {
		return claims, nil
	}

	// The issuer may have rotated its key since we cached it. Resolve
	// once more, bypassing the cache, and retry if the key changed.
	fresh, err := v.cfg.Resolver.ResolveSigningKey(ctx, claims.Issuer, true)
	if err == nil && fresh.DIDKey() != key.DIDKey() && fresh.Verify(signed, sig) {
		return claims, nil
	}
	return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwtSignature, "JWT signature does not verify"))
}

// decodeClaims decodes and type-checks the payload segment.
func decodeClaims(segment string) (*Claims, error) {
	raw, err := unverifiedParser.DecodeSegment(segment)
	if err != nil {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "malformed JWT payload encoding"))
	}
	var payload struct {
		Iss   any `json:"iss"`
		Aud   any `json:"aud"`
		Exp   any `json:"exp"`
		Lxm   any `json:"lxm"`
		Nonce any `json:"nonce"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "malformed JWT payload"))
	}
	claims := &Claims{}
	var ok bool
	if claims.Issuer, ok = payload.Iss.(string); !ok || claims.Issuer == "" {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "JWT payload is missing a string iss claim"))
	}
	if claims.Audience, ok = payload.Aud.(string); !ok || claims.Audience == "" {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "JWT payload is missing a string aud claim"))
	}
	exp, ok := payload.Exp.(float64)
	if !ok {
		return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "JWT payload is missing a numeric exp claim"))
	}
	claims.Expires = int64(exp)
	if payload.Lxm != nil {
		if claims.LexiconMethod, ok = payload.Lxm.(string); !ok {
			return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "JWT lxm claim is not a string"))
		}
	}
	if payload.Nonce != nil {
		if claims.Nonce, ok = payload.Nonce.(string); !ok {
			return nil, trace.Wrap(xrpc.NewError(xrpc.CodeBadJwt, "JWT nonce claim is not a string"))
		}
	}
	return claims, nil
}
