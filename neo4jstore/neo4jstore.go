// Package neo4jstore reads the data graph from a Neo4j database. Vertex
// and edge ids are Neo4j element ids; a vertex's label is its first node
// label.
package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mstrYoda/graphmatch"
)

// Options configures Open.
type Options struct {
	URI      string // default bolt://localhost:7687
	Username string
	Password string
	Database string // empty selects the server default
	Logger   *slog.Logger
}

// runner executes a read query and returns every record.
type runner func(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)

// Store implements graphmatch.StorageAdapter. It is read-only.
type Store struct {
	driver neo4j.DriverWithContext
	run    runner
	log    *slog.Logger
}

var _ graphmatch.StorageAdapter = (*Store)(nil)

// Open connects to the server and verifies connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	uri := opts.URI
	if uri == "" {
		uri = "bolt://localhost:7687"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(opts.Username, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4jstore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jstore: connect %s: %w", uri, err)
	}
	s := &Store{driver: driver, log: logger}
	s.run = func(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
		session := driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeRead,
			DatabaseName: opts.Database,
		})
		defer session.Close(ctx)
		return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
	}
	logger.Info("neo4jstore connected", "uri", uri, "database", opts.Database)
	return s, nil
}

// Close closes the driver.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Store) query(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	start := time.Now()
	recs, err := s.run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("neo4jstore: %w", err)
	}
	s.log.Debug("neo4jstore query", "cypher", cypher, "records", len(recs), "duration", time.Since(start))
	return recs, nil
}

// quoteLabel escapes a label for use as a Cypher identifier. Labels
// cannot be passed as parameters.
func quoteLabel(label string) string {
	return "`" + strings.ReplaceAll(label, "`", "``") + "`"
}

const edgeReturn = `
RETURN elementId(e) AS eid, elementId(src) AS src_vid, elementId(dst) AS dst_vid, properties(e) AS props
ORDER BY eid`

// GetVertex implements graphmatch.StorageAdapter.
func (s *Store) GetVertex(ctx context.Context, id graphmatch.VertexID) (*graphmatch.DataVertex, error) {
	recs, err := s.query(ctx, `
MATCH (v) WHERE elementId(v) = $vid
RETURN elementId(v) AS vid, labels(v) AS labels, properties(v) AS props`,
		map[string]any{"vid": string(id)})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", graphmatch.ErrVertexNotFound, id)
	}
	labels, _ := get[[]any](recs[0], "labels")
	label := ""
	if len(labels) > 0 {
		label, _ = labels[0].(string)
	}
	return toVertex(recs[0], label)
}

// LoadVertices implements graphmatch.StorageAdapter.
func (s *Store) LoadVertices(ctx context.Context, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataVertex, error) {
	recs, err := s.query(ctx,
		"MATCH (v:"+quoteLabel(label)+") RETURN elementId(v) AS vid, properties(v) AS props ORDER BY vid", nil)
	if err != nil {
		return nil, err
	}
	var out []*graphmatch.DataVertex
	for _, rec := range recs {
		v, err := toVertex(rec, label)
		if err != nil {
			return nil, err
		}
		if attr == nil || attr.Matches(v.Props) {
			out = append(out, v)
		}
	}
	return out, nil
}

// LoadEdges implements graphmatch.StorageAdapter.
func (s *Store) LoadEdges(ctx context.Context, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, label, attr, "", nil)
}

// LoadEdgesBySrc implements graphmatch.StorageAdapter.
func (s *Store) LoadEdgesBySrc(ctx context.Context, src graphmatch.VertexID, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, label, attr, "WHERE elementId(src) = $vid", map[string]any{"vid": string(src)})
}

// LoadEdgesByDst implements graphmatch.StorageAdapter.
func (s *Store) LoadEdgesByDst(ctx context.Context, dst graphmatch.VertexID, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, label, attr, "WHERE elementId(dst) = $vid", map[string]any{"vid": string(dst)})
}

func (s *Store) loadEdges(ctx context.Context, label string, attr *graphmatch.PatternAttr, where string, params map[string]any) ([]*graphmatch.DataEdge, error) {
	cypher := "MATCH (src)-[e:" + quoteLabel(label) + "]->(dst) " + where + edgeReturn
	recs, err := s.query(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var out []*graphmatch.DataEdge
	for _, rec := range recs {
		e, err := toEdge(rec, label)
		if err != nil {
			return nil, err
		}
		if attr == nil || attr.Matches(e.Props) {
			out = append(out, e)
		}
	}
	return out, nil
}

var errMissingColumn = errors.New("neo4jstore: missing column")

func get[T any](rec *neo4j.Record, key string) (T, error) {
	var zero T
	raw, ok := rec.Get(key)
	if !ok {
		return zero, fmt.Errorf("%w %q", errMissingColumn, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("neo4jstore: column %q has type %T", key, raw)
	}
	return v, nil
}

func toVertex(rec *neo4j.Record, label string) (*graphmatch.DataVertex, error) {
	vid, err := get[string](rec, "vid")
	if err != nil {
		return nil, err
	}
	props, err := get[map[string]any](rec, "props")
	if err != nil {
		return nil, err
	}
	return &graphmatch.DataVertex{ID: graphmatch.VertexID(vid), Label: label, Props: graphmatch.NormalizeProps(props)}, nil
}

func toEdge(rec *neo4j.Record, label string) (*graphmatch.DataEdge, error) {
	cols := make([]string, 3)
	for i, key := range []string{"eid", "src_vid", "dst_vid"} {
		v, err := get[string](rec, key)
		if err != nil {
			return nil, err
		}
		cols[i] = v
	}
	props, err := get[map[string]any](rec, "props")
	if err != nil {
		return nil, err
	}
	return &graphmatch.DataEdge{
		ID:    graphmatch.EdgeID(cols[0]),
		Label: label,
		Src:   graphmatch.VertexID(cols[1]),
		Dst:   graphmatch.VertexID(cols[2]),
		Props: graphmatch.NormalizeProps(props),
	}, nil
}
