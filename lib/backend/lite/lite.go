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

// Package lite implements the label store on sqlite.
package lite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/backend"
	"github.com/skyware-js/labeler/lib/defaults"
	"github.com/skyware-js/labeler/lib/label"
)

const schema = `
CREATE TABLE IF NOT EXISTS labels (
    id  INTEGER PRIMARY KEY AUTOINCREMENT,
    src TEXT NOT NULL,
    uri TEXT NOT NULL,
    cid TEXT,
    val TEXT NOT NULL,
    neg INTEGER NOT NULL DEFAULT 0,
    cts TEXT NOT NULL,
    exp TEXT,
    sig BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS labels_uri_idx ON labels (uri);
CREATE INDEX IF NOT EXISTS labels_src_idx ON labels (src);
`

// memorySeq disambiguates in-memory databases within a process so
// tests do not share state through the sqlite shared cache.
var memorySeq atomic.Int64

// Config is the sqlite store configuration.
type Config struct {
	// Path is the database file location.
	Path string
	// Memory selects an in-process database, ignoring Path.
	Memory bool
	// BusyTimeout is how long sqlite waits on a locked database.
	BusyTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" && !c.Memory {
		return trace.BadParameter("missing database path")
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaults.DatabaseBusyTimeout
	}
	return nil
}

// Backend is the sqlite-backed append-only label log.
type Backend struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens the database, switches it to WAL journaling and creates
// the schema. The store is ready to serve traffic when New returns.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	if cfg.Memory {
		dsn = fmt.Sprintf("file:labels-mem-%d?mode=memory&cache=shared", memorySeq.Add(1))
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Memory {
		// The database lives as long as one connection does.
		db.SetMaxOpenConns(1)
	}
	b := &Backend{
		db:  db,
		log: slog.With(labeler.Component, labeler.ComponentBackend),
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "creating label schema")
	}
	b.log.InfoContext(ctx, "Label store initialized.", "dsn", dsn)
	return b, nil
}

// Close releases the database.
func (b *Backend) Close() error {
	return trace.Wrap(b.db.Close())
}

// Append implements backend.Store. Unsigned labels are rejected so a
// label is never visible to readers before it carries a signature.
func (b *Backend) Append(ctx context.Context, l *label.Label) (int64, error) {
	if len(l.Sig) == 0 {
		return 0, trace.BadParameter("refusing to store unsigned label")
	}
	if l.Src == "" || l.URI == "" || l.Val == "" || l.CTS == "" {
		return 0, trace.BadParameter("label is missing required fields")
	}
	res, err := b.db.ExecContext(ctx,
		"INSERT INTO labels (src, uri, cid, val, neg, cts, exp, sig) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		l.Src, l.URI, nullable(l.CID), l.Val, l.Neg, l.CTS, nullable(l.Exp), []byte(l.Sig))
	if err != nil {
		return 0, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return id, nil
}

// Query implements backend.Store.
func (b *Backend) Query(ctx context.Context, params backend.QueryParams) ([]backend.StoredLabel, error) {
	query := "SELECT id, src, uri, cid, val, neg, cts, exp, sig FROM labels"
	var conds []string
	var args []any

	patterns, err := compilePatterns(params.URIPatterns)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(patterns) > 0 {
		var likes []string
		for _, p := range patterns {
			likes = append(likes, `uri LIKE ? ESCAPE '\'`)
			args = append(args, p)
		}
		conds = append(conds, "("+strings.Join(likes, " OR ")+")")
	}
	if len(params.Sources) > 0 {
		conds = append(conds, "src IN (?"+strings.Repeat(", ?", len(params.Sources)-1)+")")
		for _, src := range params.Sources {
			args = append(args, src)
		}
	}
	if params.AfterID > 0 {
		conds = append(conds, "id > ?")
		args = append(args, params.AfterID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id ASC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// scanChunkSize is how many labels a Scan reads per query. Chunking
// keeps memory bounded and releases the connection before fn runs, so
// fn may itself hit the store.
const scanChunkSize = 512

// Scan implements backend.Store.
func (b *Backend) Scan(ctx context.Context, afterID int64, fn func(backend.StoredLabel) error) error {
	for {
		chunk, err := b.Query(ctx, backend.QueryParams{AfterID: afterID, Limit: scanChunkSize})
		if err != nil {
			return trace.Wrap(err)
		}
		for _, sl := range chunk {
			if err := fn(sl); err != nil {
				return trace.Wrap(err)
			}
			afterID = sl.ID
		}
		if len(chunk) < scanChunkSize {
			return nil
		}
	}
}

// MaxID implements backend.Store.
func (b *Backend) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := b.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM labels").Scan(&maxID); err != nil {
		return 0, trace.Wrap(err)
	}
	return maxID, nil
}

// compilePatterns compiles every pattern, collapsing to no filter when
// any pattern is the match-all wildcard.
func compilePatterns(patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		compiled, err := backend.CompilePattern(p)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if compiled == "" {
			return nil, nil
		}
		out = append(out, compiled)
	}
	return out, nil
}

func collectRows(rows *sql.Rows) ([]backend.StoredLabel, error) {
	out := []backend.StoredLabel{}
	for rows.Next() {
		sl, err := scanRow(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, sl)
	}
	return out, trace.Wrap(rows.Err())
}

func scanRow(rows *sql.Rows) (backend.StoredLabel, error) {
	var sl backend.StoredLabel
	var cid, exp sql.NullString
	var sig []byte
	if err := rows.Scan(&sl.ID, &sl.Src, &sl.URI, &cid, &sl.Val, &sl.Neg, &sl.CTS, &exp, &sig); err != nil {
		return sl, trace.Wrap(err)
	}
	sl.Ver = label.Version
	sl.CID = cid.String
	sl.Exp = exp.String
	sl.Sig = sig
	return sl, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
