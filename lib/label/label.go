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

// Package label defines the moderation label record and its codecs.
//
// A label has two encodings. The signable form is canonical CBOR of
// every populated field except the signature, with absent optional
// fields omitted rather than encoded as null; those bytes are what the
// labeler signs, and re-encoding a stored label must reproduce them
// exactly. The display form is JSON with the signature wrapped in a
// typed {"$bytes": ...} object.
package label

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gravitational/trace"

	"github.com/skyware-js/labeler/lib/did"
)

// Version is the label schema version. Always 1.
const Version = 1

// TimeFormat is the ISO-8601 layout used for cts and exp, UTC with
// millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// encMode is the canonical CBOR encoder shared by the signable form
// and the subscription frames: RFC 7049 canonical key order, definite
// lengths only.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes a value in the canonical CBOR form used on the wire.
func Marshal(v any) ([]byte, error) {
	out, err := encMode.Marshal(v)
	return out, trace.Wrap(err)
}

// Bytes is a byte string that marshals to the typed JSON wrapper
// {"$bytes": "<base64>"} used for binary fields in atproto JSON. CBOR
// encodes it as a plain byte string.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"$bytes": base64.RawStdEncoding.EncodeToString(b)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Bytes string `json:"$bytes"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return trace.Wrap(err)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(wrapper.Bytes, "="))
	if err != nil {
		return trace.BadParameter("bad $bytes encoding: %v", err)
	}
	*b = raw
	return nil
}

// Label is a signed assertion that source src attaches value val to
// subject uri, optionally pinned to a specific version by cid.
type Label struct {
	// Ver is the schema version, always 1.
	Ver int `json:"ver" cbor:"ver"`
	// Src is the DID of the issuer.
	Src string `json:"src" cbor:"src"`
	// URI is the subject: an account DID or a record URI.
	URI string `json:"uri" cbor:"uri"`
	// CID optionally pins a specific version of URI.
	CID string `json:"cid,omitempty" cbor:"cid,omitempty"`
	// Val is the label vocabulary identifier.
	Val string `json:"val" cbor:"val"`
	// Neg retracts a prior label with the same src, uri and val.
	Neg bool `json:"neg,omitempty" cbor:"neg,omitempty"`
	// CTS is the creation timestamp.
	CTS string `json:"cts" cbor:"cts"`
	// Exp is an optional expiry timestamp.
	Exp string `json:"exp,omitempty" cbor:"exp,omitempty"`
	// Sig is the compact secp256k1 signature over the signable form.
	Sig Bytes `json:"sig,omitempty" cbor:"sig,omitempty"`
}

// SignableBytes returns the canonical CBOR encoding of every populated
// field except the signature. Ver is forced to 1 and a false Neg is
// omitted, so the output is stable across re-encodings.
func (l *Label) SignableBytes() ([]byte, error) {
	signable := *l
	signable.Ver = Version
	signable.Sig = nil
	out, err := encMode.Marshal(&signable)
	return out, trace.Wrap(err)
}

// Sign populates Sig with the key's signature over the signable form.
func (l *Label) Sign(key *did.PrivateKey) error {
	l.Ver = Version
	msg, err := l.SignableBytes()
	if err != nil {
		return trace.Wrap(err)
	}
	l.Sig = key.Sign(msg)
	return nil
}

// Verify checks Sig against the given public key by re-encoding the
// signable form.
func (l *Label) Verify(key *did.PublicKey) error {
	if len(l.Sig) == 0 {
		return trace.BadParameter("label has no signature")
	}
	msg, err := l.SignableBytes()
	if err != nil {
		return trace.Wrap(err)
	}
	if !key.Verify(msg, l.Sig) {
		return trace.AccessDenied("label signature does not verify")
	}
	return nil
}
