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

package lite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/label"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(context.Background(), Config{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

func testLabel(uri, val string) *label.Label {
	return &label.Label{
		Ver: label.Version,
		Src: "did:plc:aaa",
		URI: uri,
		Val: val,
		CTS: "2026-08-26T12:00:00.000Z",
		Sig: []byte("test signature bytes"),
	}
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	var last int64
	for i := range 5 {
		id, err := b.Append(ctx, testLabel(fmt.Sprintf("did:plc:u%d", i), "spam"))
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}

	maxID, err := b.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, last, maxID)
}

func TestAppendRejectsUnsigned(t *testing.T) {
	b := newTestBackend(t)

	l := testLabel("did:plc:bbb", "spam")
	l.Sig = nil
	_, err := b.Append(context.Background(), l)
	require.True(t, trace.IsBadParameter(err), "got %v", err)
}

func TestQueryFilters(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	first := testLabel("did:plc:bbb", "spam")
	second := testLabel("did:plc:bbc", "rude")
	third := testLabel("did:plc:ccc", "spam")
	third.Src = "did:plc:other"
	for _, l := range []*label.Label{first, second, third} {
		_, err := b.Append(ctx, l)
		require.NoError(t, err)
	}

	// No filters returns everything in id order.
	got, err := b.Query(ctx, backend.QueryParams{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []int64{1, 2, 3}, ids(got))

	// Prefix wildcard.
	got, err = b.Query(ctx, backend.QueryParams{URIPatterns: []string{"did:plc:bb*"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(got))

	// Exact pattern.
	got, err = b.Query(ctx, backend.QueryParams{URIPatterns: []string{"did:plc:ccc"}})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids(got))

	// Match-all pattern disables the filter.
	got, err = b.Query(ctx, backend.QueryParams{URIPatterns: []string{"*"}})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Several patterns OR together.
	got, err = b.Query(ctx, backend.QueryParams{URIPatterns: []string{"did:plc:bbb", "did:plc:ccc"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, ids(got))

	// Source filter.
	got, err = b.Query(ctx, backend.QueryParams{Sources: []string{"did:plc:other"}})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids(got))

	// Cursor and limit page through without duplicates or gaps.
	got, err = b.Query(ctx, backend.QueryParams{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(got))
	got, err = b.Query(ctx, backend.QueryParams{AfterID: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids(got))

	// Bad pattern surfaces as a client error.
	_, err = b.Query(ctx, backend.QueryParams{URIPatterns: []string{"did:*:bbb"}})
	require.True(t, trace.IsBadParameter(err), "got %v", err)
}

func TestQueryMatchesLikeMetacharactersLiterally(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	underscore := testLabel("at://did:plc:a/posts/a_b", "spam")
	other := testLabel("at://did:plc:a/posts/axb", "spam")
	for _, l := range []*label.Label{underscore, other} {
		_, err := b.Append(ctx, l)
		require.NoError(t, err)
	}

	got, err := b.Query(ctx, backend.QueryParams{URIPatterns: []string{"at://did:plc:a/posts/a_b"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(got))

	got, err = b.Query(ctx, backend.QueryParams{URIPatterns: []string{"at://did:plc:a/posts/a_*"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(got))
}

func TestQueryRoundTripsOptionalFields(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	l := testLabel("at://did:plc:bbb/app.bsky.feed.post/3k2a", "spam")
	l.CID = "bafyreib2rxk3rh6kzwq"
	l.Neg = true
	l.Exp = "2027-01-01T00:00:00.000Z"
	_, err := b.Append(ctx, l)
	require.NoError(t, err)

	bare := testLabel("did:plc:bare", "ok")
	_, err = b.Append(ctx, bare)
	require.NoError(t, err)

	got, err := b.Query(ctx, backend.QueryParams{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, l.CID, got[0].CID)
	require.True(t, got[0].Neg)
	require.Equal(t, l.Exp, got[0].Exp)
	require.Equal(t, l.Sig, got[0].Sig)
	require.Empty(t, got[1].CID)
	require.False(t, got[1].Neg)
	require.Empty(t, got[1].Exp)
}

func TestScan(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i := range 4 {
		_, err := b.Append(ctx, testLabel(fmt.Sprintf("did:plc:u%d", i), "spam"))
		require.NoError(t, err)
	}

	var seen []int64
	require.NoError(t, b.Scan(ctx, 1, func(sl backend.StoredLabel) error {
		seen = append(seen, sl.ID)
		return nil
	}))
	require.Equal(t, []int64{2, 3, 4}, seen)

	// fn errors stop the scan.
	seen = nil
	err := b.Scan(ctx, 0, func(sl backend.StoredLabel) error {
		seen = append(seen, sl.ID)
		if len(seen) == 2 {
			return trace.LimitExceeded("stop")
		}
		return nil
	})
	require.True(t, trace.IsLimitExceeded(err), "got %v", err)
	require.Equal(t, []int64{1, 2}, seen)
}

func TestFileBackedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "labels.db")

	b, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	_, err = b.Append(ctx, testLabel("did:plc:bbb", "spam"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// Reopen and observe the appended label.
	b, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer b.Close()
	maxID, err := b.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), maxID)
}

func ids(labels []backend.StoredLabel) []int64 {
	out := []int64{}
	for _, l := range labels {
		out = append(out, l.ID)
	}
	return out
}
