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

// Package did implements the identity primitives of the labeler:
// atproto signing keys, did:key encoding, and DID document resolution.
package did

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gravitational/trace"
	"github.com/multiformats/go-multibase"
)

// KeyType identifies the curve of an atproto signing key.
type KeyType int

const (
	// KeyTypeSecp256k1 is the k256 curve used by labeler signing keys.
	KeyTypeSecp256k1 KeyType = iota + 1
	// KeyTypeP256 is the NIST P-256 curve used by some identity keys.
	KeyTypeP256
)

// Multicodec varint prefixes carried inside did:key identifiers and
// publicKeyMultibase values.
var (
	prefixSecp256k1 = []byte{0xe7, 0x01}
	prefixP256      = []byte{0x80, 0x24}
)

// PublicKey is a parsed atproto public signing key on one of the two
// recognized curves.
type PublicKey struct {
	keyType KeyType
	k256    *secp256k1.PublicKey
	p256    *ecdsa.PublicKey
}

// Type returns the curve of the key.
func (k *PublicKey) Type() KeyType {
	return k.keyType
}

// Bytes returns the 33-byte compressed point.
func (k *PublicKey) Bytes() []byte {
	switch k.keyType {
	case KeyTypeP256:
		return elliptic.MarshalCompressed(elliptic.P256(), k.p256.X, k.p256.Y)
	default:
		return k.k256.SerializeCompressed()
	}
}

// DIDKey returns the did:key identifier of the key: the multicodec
// prefix and compressed point, multibase base58btc encoded.
func (k *PublicKey) DIDKey() string {
	prefix := prefixSecp256k1
	if k.keyType == KeyTypeP256 {
		prefix = prefixP256
	}
	raw := append(append([]byte{}, prefix...), k.Bytes()...)
	// base58btc encoding cannot fail.
	encoded, _ := multibase.Encode(multibase.Base58BTC, raw)
	return "did:key:" + encoded
}

// Verify checks a compact 64-byte r||s signature over the SHA-256 of
// msg. Both low-S and high-S signatures are accepted for interop with
// signers that do not normalize.
func (k *PublicKey) Verify(msg, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	hash := sha256.Sum256(msg)
	switch k.keyType {
	case KeyTypeP256:
		return ecdsa.Verify(k.p256, hash[:], r, s)
	default:
		return ecdsa.Verify(k.k256.ToECDSA(), hash[:], r, s)
	}
}

// PrivateKey is the labeler's secp256k1 signing key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// ParsePrivateKey parses a 32-byte secp256k1 private key supplied as
// hex or base64. A did:key identifier names a public key and is
// rejected so a misconfigured labeler fails loudly instead of signing
// nothing.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, trace.BadParameter("missing signing key")
	}
	if strings.HasPrefix(s, "did:key:") {
		return nil, trace.BadParameter("signing key is a did:key identifier, which names a public key; supply the 32-byte private key as hex or base64")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		if raw, err = base64.StdEncoding.DecodeString(s); err != nil {
			if raw, err = base64.RawStdEncoding.DecodeString(s); err != nil {
				return nil, trace.BadParameter("signing key is neither hex nor base64")
			}
		}
	}
	if len(raw) != 32 {
		return nil, trace.BadParameter("signing key must be 32 bytes, got %d", len(raw))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(raw)}, nil
}

// PublicKey returns the public half of the key.
func (k *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{keyType: KeyTypeSecp256k1, k256: k.key.PubKey()}
}

// Sign produces a compact 64-byte r||s signature over the SHA-256 of
// msg, deterministic per RFC 6979 and low-S normalized.
func (k *PrivateKey) Sign(msg []byte) []byte {
	hash := sha256.Sum256(msg)
	sig := secpecdsa.Sign(k.key, hash[:])
	r := sig.R()
	s := sig.S()
	out := make([]byte, 64)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(out[:32], rb[:])
	copy(out[32:], sb[:])
	return out
}

// ParseDIDKey parses a did:key identifier into a public key.
func ParseDIDKey(s string) (*PublicKey, error) {
	rest, ok := strings.CutPrefix(s, "did:key:")
	if !ok {
		return nil, trace.BadParameter("not a did:key identifier: %q", s)
	}
	return ParseMultibaseKey(rest)
}

// ParseMultibaseKey parses a multibase-encoded, multicodec-prefixed
// public key, the encoding used by publicKeyMultibase entries in DID
// documents and by did:key identifiers.
func ParseMultibaseKey(s string) (*PublicKey, error) {
	_, raw, err := multibase.Decode(s)
	if err != nil {
		return nil, trace.BadParameter("bad multibase key encoding: %v", err)
	}
	switch {
	case bytes.HasPrefix(raw, prefixSecp256k1):
		key, err := secp256k1.ParsePubKey(raw[len(prefixSecp256k1):])
		if err != nil {
			return nil, trace.BadParameter("bad secp256k1 public key: %v", err)
		}
		return &PublicKey{keyType: KeyTypeSecp256k1, k256: key}, nil
	case bytes.HasPrefix(raw, prefixP256):
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw[len(prefixP256):])
		if x == nil {
			return nil, trace.BadParameter("bad P-256 public key point")
		}
		return &PublicKey{keyType: KeyTypeP256, p256: &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}}, nil
	default:
		return nil, trace.BadParameter("unrecognized key multicodec prefix")
	}
}

// HighS converts a low-S compact signature into its high-S
// counterpart. Used in tests to assert that verification accepts both
// forms.
func HighS(sig []byte) []byte {
	if len(sig) != 64 {
		return nil
	}
	n := secp256k1.Params().N
	s := new(big.Int).SetBytes(sig[32:])
	s.Sub(n, s)
	out := make([]byte, 64)
	copy(out[:32], sig[:32])
	s.FillBytes(out[32:])
	return out
}
