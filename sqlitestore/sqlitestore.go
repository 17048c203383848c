// Package sqlitestore is a graphmatch.StorageAdapter over a relational
// schema in SQLite: one table per element kind plus one row per typed
// attribute.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mstrYoda/graphmatch"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS db_vertex (
		vid   TEXT PRIMARY KEY,
		label TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS db_edge (
		eid     TEXT PRIMARY KEY,
		label   TEXT NOT NULL,
		src_vid TEXT NOT NULL,
		dst_vid TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vertex_attribute (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		vid   TEXT NOT NULL,
		key   TEXT NOT NULL,
		value TEXT NOT NULL,
		type  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS edge_attribute (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		eid   TEXT NOT NULL,
		key   TEXT NOT NULL,
		value TEXT NOT NULL,
		type  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vertex_label ON db_vertex(label)`,
	`CREATE INDEX IF NOT EXISTS idx_edge_label ON db_edge(label)`,
	`CREATE INDEX IF NOT EXISTS idx_edge_src_vid ON db_edge(src_vid, label)`,
	`CREATE INDEX IF NOT EXISTS idx_edge_dst_vid ON db_edge(dst_vid, label)`,
	`CREATE INDEX IF NOT EXISTS idx_vertex_attr_vid ON vertex_attribute(vid)`,
	`CREATE INDEX IF NOT EXISTS idx_edge_attr_eid ON edge_attribute(eid)`,
	`CREATE INDEX IF NOT EXISTS idx_vertex_attr_key ON vertex_attribute(key)`,
	`CREATE INDEX IF NOT EXISTS idx_edge_attr_key ON edge_attribute(key)`,
}

var tables = []string{"edge_attribute", "vertex_attribute", "db_edge", "db_vertex"}

// Options configures Open.
type Options struct {
	// ReadOnly opens the database with mode=ro and skips schema creation.
	ReadOnly bool
	// MaxOpenConns defaults to 4.
	MaxOpenConns int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store implements graphmatch.StorageAdapter and graphmatch.Writer.
type Store struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

var (
	_ graphmatch.StorageAdapter = (*Store)(nil)
	_ graphmatch.Writer         = (*Store)(nil)
)

// Open opens the database at path and creates the schema unless the store
// is read-only.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if opts.ReadOnly {
		// Query parameters are only honoured for file: URIs.
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	conns := opts.MaxOpenConns
	if conns <= 0 {
		conns = 4
	}
	db.SetMaxOpenConns(conns)

	s := &Store{db: db, path: path, log: logger}
	if !opts.ReadOnly {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
		}
		if err := s.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// InitSchema creates the tables and indexes if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: init schema: %w", err)
		}
	}
	return nil
}

// Reset drops every table and recreates an empty schema.
func (s *Store) Reset(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("sqlitestore: drop %s: %w", t, err)
		}
	}
	s.log.Info("sqlitestore reset", "path", s.path)
	return s.InitSchema(ctx)
}

// Stats holds row counts.
type Stats struct {
	Vertices int64
	Edges    int64
}

// Stats counts stored vertices and edges.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM db_vertex").Scan(&st.Vertices); err != nil {
		return st, err
	}
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM db_edge").Scan(&st.Edges)
	return st, err
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertVertices inserts or replaces vertices and their attributes in one
// transaction.
func (s *Store) InsertVertices(ctx context.Context, vs []*graphmatch.DataVertex) error {
	start := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, v := range vs {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO db_vertex (vid, label) VALUES (?, ?)", string(v.ID), v.Label); err != nil {
				return fmt.Errorf("sqlitestore: insert vertex %s: %w", v.ID, err)
			}
			if err := writeAttrs(ctx, tx, "vertex_attribute", "vid", string(v.ID), v.Props); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("sqlitestore vertices inserted", "count", len(vs), "duration", time.Since(start))
	return nil
}

// InsertEdges inserts or replaces edges. Both endpoints of every edge must
// already be stored.
func (s *Store) InsertEdges(ctx context.Context, es []*graphmatch.DataEdge) error {
	start := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range es {
			srcOK, err := vertexExists(ctx, tx, e.Src)
			if err != nil {
				return err
			}
			dstOK, err := vertexExists(ctx, tx, e.Dst)
			if err != nil {
				return err
			}
			if !srcOK || !dstOK {
				return graphmatch.NewDanglingEdgeError(e, srcOK, dstOK)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO db_edge (eid, label, src_vid, dst_vid) VALUES (?, ?, ?, ?)",
				string(e.ID), e.Label, string(e.Src), string(e.Dst)); err != nil {
				return fmt.Errorf("sqlitestore: insert edge %s: %w", e.ID, err)
			}
			if err := writeAttrs(ctx, tx, "edge_attribute", "eid", string(e.ID), e.Props); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("sqlitestore edges inserted", "count", len(es), "duration", time.Since(start))
	return nil
}

// PutVertices implements graphmatch.Writer.
func (s *Store) PutVertices(ctx context.Context, vs []*graphmatch.DataVertex) error {
	return s.InsertVertices(ctx, vs)
}

// PutEdges implements graphmatch.Writer.
func (s *Store) PutEdges(ctx context.Context, es []*graphmatch.DataEdge) error {
	return s.InsertEdges(ctx, es)
}

func vertexExists(ctx context.Context, tx *sql.Tx, id graphmatch.VertexID) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM db_vertex WHERE vid = ?", string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// writeAttrs replaces the attribute rows owned by id. Keys are written in
// sorted order so that row ids are reproducible.
func writeAttrs(ctx context.Context, tx *sql.Tx, table, owner, id string, props graphmatch.Props) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+owner+" = ?", id); err != nil {
		return err
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text, typ, ok := graphmatch.FormatTypedValue(props[k])
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" ("+owner+", key, value, type) VALUES (?, ?, ?, ?)",
			id, k, text, string(typ)); err != nil {
			return fmt.Errorf("sqlitestore: insert attribute %s.%s: %w", id, k, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetVertex implements graphmatch.StorageAdapter.
func (s *Store) GetVertex(ctx context.Context, id graphmatch.VertexID) (*graphmatch.DataVertex, error) {
	v := &graphmatch.DataVertex{ID: id}
	err := s.db.QueryRowContext(ctx, "SELECT label FROM db_vertex WHERE vid = ?", string(id)).Scan(&v.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", graphmatch.ErrVertexNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	attrs, err := s.loadAttrs(ctx, "vertex_attribute", "vid", "?", string(id))
	if err != nil {
		return nil, err
	}
	v.Props = attrs[string(id)]
	if v.Props == nil {
		v.Props = graphmatch.Props{}
	}
	return v, nil
}

// LoadVertices implements graphmatch.StorageAdapter.
func (s *Store) LoadVertices(ctx context.Context, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataVertex, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT vid FROM db_vertex WHERE label = ? ORDER BY vid", label)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load vertices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*graphmatch.DataVertex
	for rows.Next() {
		var vid string
		if err := rows.Scan(&vid); err != nil {
			return nil, err
		}
		out = append(out, &graphmatch.DataVertex{ID: graphmatch.VertexID(vid), Label: label})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	attrs, err := s.loadAttrs(ctx, "vertex_attribute", "vid",
		"(SELECT vid FROM db_vertex WHERE label = ?)", label)
	if err != nil {
		return nil, err
	}
	kept := out[:0]
	for _, v := range out {
		v.Props = attrs[string(v.ID)]
		if v.Props == nil {
			v.Props = graphmatch.Props{}
		}
		if attr == nil || attr.Matches(v.Props) {
			kept = append(kept, v)
		}
	}
	return kept, nil
}

// LoadEdges implements graphmatch.StorageAdapter.
func (s *Store) LoadEdges(ctx context.Context, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, attr, "label = ?", label)
}

// LoadEdgesBySrc implements graphmatch.StorageAdapter.
func (s *Store) LoadEdgesBySrc(ctx context.Context, src graphmatch.VertexID, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, attr, "src_vid = ? AND label = ?", string(src), label)
}

// LoadEdgesByDst implements graphmatch.StorageAdapter.
func (s *Store) LoadEdgesByDst(ctx context.Context, dst graphmatch.VertexID, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, attr, "dst_vid = ? AND label = ?", string(dst), label)
}

func (s *Store) loadEdges(ctx context.Context, attr *graphmatch.PatternAttr, where string, args ...any) ([]*graphmatch.DataEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT eid, label, src_vid, dst_vid FROM db_edge WHERE "+where+" ORDER BY eid", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*graphmatch.DataEdge
	for rows.Next() {
		var eid, label, src, dst string
		if err := rows.Scan(&eid, &label, &src, &dst); err != nil {
			return nil, err
		}
		out = append(out, &graphmatch.DataEdge{
			ID:    graphmatch.EdgeID(eid),
			Label: label,
			Src:   graphmatch.VertexID(src),
			Dst:   graphmatch.VertexID(dst),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	attrs, err := s.loadAttrs(ctx, "edge_attribute", "eid",
		"(SELECT eid FROM db_edge WHERE "+where+")", args...)
	if err != nil {
		return nil, err
	}
	kept := out[:0]
	for _, e := range out {
		e.Props = attrs[string(e.ID)]
		if e.Props == nil {
			e.Props = graphmatch.Props{}
		}
		if attr == nil || attr.Matches(e.Props) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// loadAttrs reads the attribute rows whose owner matches in, which is
// either "?" or a parenthesised sub-select.
func (s *Store) loadAttrs(ctx context.Context, table, owner, in string, args ...any) (map[string]graphmatch.Props, error) {
	op := "IN"
	if in == "?" {
		op = "="
	}
	q := fmt.Sprintf("SELECT %s, key, value, type FROM %s WHERE %s %s %s", owner, table, owner, op, in)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]graphmatch.Props)
	for rows.Next() {
		var id, key, text, typ string
		if err := rows.Scan(&id, &key, &text, &typ); err != nil {
			return nil, err
		}
		value, err := convertAttrValue(text, typ)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: %s %s.%s: %w", table, id, key, err)
		}
		props := out[id]
		if props == nil {
			props = graphmatch.Props{}
			out[id] = props
		}
		props[key] = value
	}
	return out, rows.Err()
}

// convertAttrValue parses a stored attribute. Unknown type names are kept
// as strings.
func convertAttrValue(text, typ string) (any, error) {
	t, err := graphmatch.ParseAttrType(strings.ToLower(typ))
	if err != nil {
		return text, nil
	}
	return graphmatch.ParseTypedValue(text, t)
}
