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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyware-js/labeler/lib/label"
	"github.com/skyware-js/labeler/lib/xrpc"
)

func TestLabelsFrameRoundTrip(t *testing.T) {
	l := label.Label{
		Ver: label.Version,
		Src: "did:plc:aaa",
		URI: "did:plc:bbb",
		Val: "spam",
		CTS: "2026-08-26T12:00:00.000Z",
		Sig: []byte("signature"),
	}
	raw, err := MarshalLabelsFrame(7, []label.Label{l})
	require.NoError(t, err)

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, OpMessage, frame.Header.Op)
	require.Equal(t, TypeLabels, frame.Header.T)

	body, err := frame.DecodeLabelsBody()
	require.NoError(t, err)
	require.Equal(t, int64(7), body.Seq)
	require.Len(t, body.Labels, 1)
	require.Equal(t, l, body.Labels[0])

	_, err = frame.DecodeErrorBody()
	require.Error(t, err)
}

func TestErrorFrameRoundTrip(t *testing.T) {
	raw, err := MarshalErrorFrame(xrpc.CodeFutureCursor, "cursor 99 is ahead of the stream")
	require.NoError(t, err)

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, OpError, frame.Header.Op)
	require.Empty(t, frame.Header.T)

	body, err := frame.DecodeErrorBody()
	require.NoError(t, err)
	require.Equal(t, xrpc.CodeFutureCursor, body.Error)
	require.Contains(t, body.Message, "cursor 99")

	_, err = frame.DecodeLabelsBody()
	require.Error(t, err)
}

func TestDecodeFrameErrors(t *testing.T) {
	_, err := DecodeFrame(nil)
	require.Error(t, err)

	header, err := label.Marshal(Header{Op: OpMessage, T: TypeLabels})
	require.NoError(t, err)
	_, err = DecodeFrame(header)
	require.Error(t, err)
}

func TestFrameEncodingDeterministic(t *testing.T) {
	l := label.Label{Ver: 1, Src: "did:plc:aaa", URI: "did:plc:bbb", Val: "spam", CTS: "2026-08-26T12:00:00.000Z"}
	first, err := MarshalLabelsFrame(1, []label.Label{l})
	require.NoError(t, err)
	second, err := MarshalLabelsFrame(1, []label.Label{l})
	require.NoError(t, err)
	require.Equal(t, first, second)
}
