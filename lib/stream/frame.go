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

// Package stream implements the label subscription protocol: the
// binary wire framing and the per-subscriber fan-out.
package stream

import (
	"bytes"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/gravitational/trace"

	"github.com/skyware-js/labeler/lib/label"
)

// Frame operations.
const (
	// OpMessage marks a stream message frame.
	OpMessage = 1
	// OpError marks a terminal error frame.
	OpError = -1
)

// TypeLabels is the message type carried by label stream frames.
const TypeLabels = "#labels"

// Header is the first of the two CBOR objects in a frame.
type Header struct {
	// Op distinguishes messages from errors.
	Op int `cbor:"op"`
	// T is the message type, present on message frames only.
	T string `cbor:"t,omitempty"`
}

// LabelsBody is the body of a #labels message frame.
type LabelsBody struct {
	// Seq is the log id of the carried labels.
	Seq int64 `cbor:"seq"`
	// Labels are the labels committed at Seq.
	Labels []label.Label `cbor:"labels"`
}

// ErrorBody is the body of an error frame.
type ErrorBody struct {
	// Error is the wire error code.
	Error string `cbor:"error"`
	// Message is a human-readable detail.
	Message string `cbor:"message,omitempty"`
}

// MarshalLabelsFrame encodes a #labels message frame: the header and
// body concatenated, each in canonical CBOR.
func MarshalLabelsFrame(seq int64, labels []label.Label) ([]byte, error) {
	header, err := label.Marshal(Header{Op: OpMessage, T: TypeLabels})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := label.Marshal(LabelsBody{Seq: seq, Labels: labels})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return append(header, body...), nil
}

// MarshalErrorFrame encodes a terminal error frame.
func MarshalErrorFrame(code, message string) ([]byte, error) {
	header, err := label.Marshal(Header{Op: OpError})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := label.Marshal(ErrorBody{Error: code, Message: message})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return append(header, body...), nil
}

// Frame is a decoded wire frame. Body stays raw so callers can decode
// it according to the header.
type Frame struct {
	Header Header
	Body   cbor.RawMessage
}

// DecodeFrame splits a wire frame into its header and raw body.
func DecodeFrame(p []byte) (*Frame, error) {
	dec := cbor.NewDecoder(bytes.NewReader(p))
	var f Frame
	if err := dec.Decode(&f.Header); err != nil {
		return nil, trace.BadParameter("bad frame header: %v", err)
	}
	if err := dec.Decode(&f.Body); err != nil {
		if err == io.EOF {
			return nil, trace.BadParameter("frame is missing a body")
		}
		return nil, trace.BadParameter("bad frame body: %v", err)
	}
	return &f, nil
}

// DecodeLabelsBody decodes the body of a #labels frame.
func (f *Frame) DecodeLabelsBody() (*LabelsBody, error) {
	if f.Header.Op != OpMessage || f.Header.T != TypeLabels {
		return nil, trace.BadParameter("frame is not a %s message", TypeLabels)
	}
	var body LabelsBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return nil, trace.BadParameter("bad labels body: %v", err)
	}
	return &body, nil
}

// DecodeErrorBody decodes the body of an error frame.
func (f *Frame) DecodeErrorBody() (*ErrorBody, error) {
	if f.Header.Op != OpError {
		return nil, trace.BadParameter("frame is not an error")
	}
	var body ErrorBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return nil, trace.BadParameter("bad error body: %v", err)
	}
	return &body, nil
}
