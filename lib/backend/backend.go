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

// Package backend defines the append-only label store contract and is
// implemented by the sqlite backend in lib/backend/lite.
package backend

import (
	"context"
	"strings"

	"github.com/gravitational/trace"

	"github.com/skyware-js/labeler/lib/label"
)

// StoredLabel is a label with its assigned log id.
type StoredLabel struct {
	// ID is the monotonic log position, strictly increasing with
	// insertion order.
	ID int64
	label.Label
}

// QueryParams filter a historical label query.
type QueryParams struct {
	// URIPatterns restricts results to subjects matching any of the
	// patterns; see CompilePattern for the pattern language.
	URIPatterns []string
	// Sources restricts results to labels issued by the given DIDs.
	Sources []string
	// AfterID, when positive, restricts results to ids greater than
	// it.
	AfterID int64
	// Limit caps the result size after ordering. Zero means no limit.
	Limit int
}

// Store is the append-only label log. Labels are never mutated or
// deleted; every read method orders by ascending id.
type Store interface {
	// Append atomically inserts a signed label and returns its id. The
	// id is durably visible to Query and Scan before Append returns.
	Append(ctx context.Context, l *label.Label) (int64, error)
	// Query returns stored labels matching params, id-ascending.
	Query(ctx context.Context, params QueryParams) ([]StoredLabel, error)
	// Scan streams every label with id greater than afterID to fn in
	// id order. A non-nil error from fn stops the scan.
	Scan(ctx context.Context, afterID int64, fn func(StoredLabel) error) error
	// MaxID returns the highest assigned id, or 0 on an empty log.
	MaxID(ctx context.Context) (int64, error)
	// Close releases the store.
	Close() error
}

// CompilePattern translates a subject pattern into a SQL LIKE pattern
// with `\` as the escape character. A lone "*" matches everything and
// compiles to the empty string, meaning no filter. A trailing "*"
// makes a prefix match; a "*" anywhere else is a client error. LIKE
// metacharacters in the input match themselves.
func CompilePattern(pattern string) (string, error) {
	if pattern == "" {
		return "", trace.BadParameter("empty uri pattern")
	}
	if pattern == "*" {
		return "", nil
	}
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	if strings.Contains(prefix, "*") {
		return "", trace.BadParameter("uri pattern %q may only end with a wildcard", pattern)
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	if wildcard {
		escaped += "%"
	}
	return escaped, nil
}
