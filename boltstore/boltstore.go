// Package boltstore is a persistent graphmatch.StorageAdapter on top of
// bbolt. Vertices and edges live in their own buckets, keyed by id, with
// label indexes and label-scoped adjacency lists so that the loads issued
// by get_adj are single prefix scans.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mstrYoda/graphmatch"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("boltstore: store is closed")

// Bucket names used in bbolt.
var (
	bucketMeta         = []byte("meta")
	bucketVertices     = []byte("vertices")
	bucketEdges        = []byte("edges")
	bucketAdjOut       = []byte("adj_out")          // src\x00label\x00eid -> nil
	bucketAdjIn        = []byte("adj_in")           // dst\x00label\x00eid -> nil
	bucketIdxVertLabel = []byte("idx_vertex_label") // label\x00vid -> nil
	bucketIdxEdgeLabel = []byte("idx_edge_label")   // label\x00eid -> nil

	metaVertexCount = []byte("vertex_count")
	metaEdgeCount   = []byte("edge_count")
)

var allBuckets = [][]byte{
	bucketMeta,
	bucketVertices,
	bucketEdges,
	bucketAdjOut,
	bucketAdjIn,
	bucketIdxVertLabel,
	bucketIdxEdgeLabel,
}

// Options configures Open.
type Options struct {
	// ReadOnly opens the file with a shared lock. Writes fail.
	ReadOnly bool
	// NoSync skips fsync after each commit. Only safe for bulk imports
	// that can be replayed.
	NoSync bool
	// Timeout bounds the wait for the file lock. Zero waits forever.
	Timeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a bbolt-backed graph. It implements graphmatch.StorageAdapter
// and graphmatch.Writer and is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	path   string
	log    *slog.Logger
	closed atomic.Bool
}

var (
	_ graphmatch.StorageAdapter = (*Store)(nil)
	_ graphmatch.Writer         = (*Store)(nil)
)

// Open opens or creates the bolt file at path.
func Open(path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); !opts.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("boltstore: failed to create directory: %w", err)
		}
	}

	boltOpts := *bolt.DefaultOptions
	boltOpts.ReadOnly = opts.ReadOnly
	boltOpts.NoSync = opts.NoSync
	boltOpts.Timeout = opts.Timeout
	db, err := bolt.Open(path, 0600, &boltOpts)
	if err != nil {
		return nil, fmt.Errorf("boltstore: failed to open %s: %w", path, err)
	}

	s := &Store{db: db, path: path, log: logger}
	if !opts.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, err
		}
	}
	logger.Debug("boltstore opened", "path", path, "read_only", opts.ReadOnly)
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: failed to create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		for _, key := range [][]byte{metaVertexCount, metaEdgeCount} {
			if meta.Get(key) == nil {
				if err := meta.Put(key, encodeUint64(0)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Path returns the file path of the store.
func (s *Store) Path() string { return s.path }

// Close releases the file lock. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Stats describes the stored graph.
type Stats struct {
	Vertices uint64
	Edges    uint64
	FileSize int64
}

// Stats reads the persisted counters and the file size.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if s.closed.Load() {
		return st, ErrClosed
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		st.Vertices = decodeUint64(meta.Get(metaVertexCount))
		st.Edges = decodeUint64(meta.Get(metaEdgeCount))
		st.FileSize = tx.Size()
		return nil
	})
	return st, err
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// PutVertex inserts or replaces a vertex.
func (s *Store) PutVertex(ctx context.Context, v *graphmatch.DataVertex) error {
	return s.PutBatch(ctx, []*graphmatch.DataVertex{v}, nil)
}

// PutEdge inserts or replaces an edge. Both endpoints must exist.
func (s *Store) PutEdge(ctx context.Context, e *graphmatch.DataEdge) error {
	return s.PutBatch(ctx, nil, []*graphmatch.DataEdge{e})
}

// PutVertices implements graphmatch.Writer.
func (s *Store) PutVertices(ctx context.Context, vs []*graphmatch.DataVertex) error {
	return s.PutBatch(ctx, vs, nil)
}

// PutEdges implements graphmatch.Writer.
func (s *Store) PutEdges(ctx context.Context, es []*graphmatch.DataEdge) error {
	return s.PutBatch(ctx, nil, es)
}

// PutBatch writes vertices then edges in a single transaction. Edges may
// reference vertices of the same batch. Either everything is stored or
// nothing is.
func (s *Store) PutBatch(ctx context.Context, vs []*graphmatch.DataVertex, es []*graphmatch.DataEdge) error {
	if s.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		vCount := decodeUint64(meta.Get(metaVertexCount))
		eCount := decodeUint64(meta.Get(metaEdgeCount))

		for i, v := range vs {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			added, err := putVertex(tx, v)
			if err != nil {
				return err
			}
			if added {
				vCount++
			}
		}
		for i, e := range es {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			added, err := putEdge(tx, e)
			if err != nil {
				return err
			}
			if added {
				eCount++
			}
		}

		if err := meta.Put(metaVertexCount, encodeUint64(vCount)); err != nil {
			return err
		}
		return meta.Put(metaEdgeCount, encodeUint64(eCount))
	})
	if err != nil {
		return err
	}
	s.log.Debug("boltstore batch written",
		"vertices", len(vs),
		"edges", len(es),
		"duration", time.Since(start),
	)
	return nil
}

func putVertex(tx *bolt.Tx, v *graphmatch.DataVertex) (bool, error) {
	if err := validID("vertex id", string(v.ID)); err != nil {
		return false, err
	}
	if err := validID("label", v.Label); err != nil {
		return false, err
	}
	vertices := tx.Bucket(bucketVertices)
	idx := tx.Bucket(bucketIdxVertLabel)
	key := []byte(v.ID)

	added := true
	if old := vertices.Get(key); old != nil {
		added = false
		prev, err := decodeVertex(v.ID, old)
		if err != nil {
			return false, err
		}
		if err := idx.Delete(joinKey(prev.Label, string(v.ID))); err != nil {
			return false, err
		}
	}

	data, err := encodeVertex(&graphmatch.DataVertex{ID: v.ID, Label: v.Label, Props: graphmatch.NormalizeProps(v.Props)})
	if err != nil {
		return false, fmt.Errorf("boltstore: encode vertex %s: %w", v.ID, err)
	}
	if err := vertices.Put(key, data); err != nil {
		return false, err
	}
	return added, idx.Put(joinKey(v.Label, string(v.ID)), nil)
}

func putEdge(tx *bolt.Tx, e *graphmatch.DataEdge) (bool, error) {
	if err := validID("edge id", string(e.ID)); err != nil {
		return false, err
	}
	if err := validID("label", e.Label); err != nil {
		return false, err
	}
	vertices := tx.Bucket(bucketVertices)
	srcOK := vertices.Get([]byte(e.Src)) != nil
	dstOK := vertices.Get([]byte(e.Dst)) != nil
	if !srcOK || !dstOK {
		return false, graphmatch.NewDanglingEdgeError(e, srcOK, dstOK)
	}

	edges := tx.Bucket(bucketEdges)
	key := []byte(e.ID)
	added := true
	if old := edges.Get(key); old != nil {
		added = false
		prev, err := decodeEdge(e.ID, old)
		if err != nil {
			return false, err
		}
		if err := unindexEdge(tx, prev); err != nil {
			return false, err
		}
	}

	data, err := encodeEdge(&graphmatch.DataEdge{
		ID: e.ID, Label: e.Label, Src: e.Src, Dst: e.Dst,
		Props: graphmatch.NormalizeProps(e.Props),
	})
	if err != nil {
		return false, fmt.Errorf("boltstore: encode edge %s: %w", e.ID, err)
	}
	if err := edges.Put(key, data); err != nil {
		return false, err
	}
	if err := tx.Bucket(bucketAdjOut).Put(joinKey(string(e.Src), e.Label, string(e.ID)), nil); err != nil {
		return false, err
	}
	if err := tx.Bucket(bucketAdjIn).Put(joinKey(string(e.Dst), e.Label, string(e.ID)), nil); err != nil {
		return false, err
	}
	return added, tx.Bucket(bucketIdxEdgeLabel).Put(joinKey(e.Label, string(e.ID)), nil)
}

func unindexEdge(tx *bolt.Tx, e *graphmatch.DataEdge) error {
	if err := tx.Bucket(bucketAdjOut).Delete(joinKey(string(e.Src), e.Label, string(e.ID))); err != nil {
		return err
	}
	if err := tx.Bucket(bucketAdjIn).Delete(joinKey(string(e.Dst), e.Label, string(e.ID))); err != nil {
		return err
	}
	return tx.Bucket(bucketIdxEdgeLabel).Delete(joinKey(e.Label, string(e.ID)))
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(fn)
}

// GetVertex implements graphmatch.StorageAdapter.
func (s *Store) GetVertex(_ context.Context, id graphmatch.VertexID) (*graphmatch.DataVertex, error) {
	var v *graphmatch.DataVertex
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVertices)
		if b == nil {
			return fmt.Errorf("%w: %s", graphmatch.ErrVertexNotFound, id)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", graphmatch.ErrVertexNotFound, id)
		}
		var err error
		v, err = decodeVertex(id, data)
		return err
	})
	return v, err
}

// LoadVertices implements graphmatch.StorageAdapter.
func (s *Store) LoadVertices(ctx context.Context, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataVertex, error) {
	var out []*graphmatch.DataVertex
	err := s.view(func(tx *bolt.Tx) error {
		vertices := tx.Bucket(bucketVertices)
		return forEachWithPrefix(ctx, tx.Bucket(bucketIdxVertLabel), keyPrefix(label), func(k []byte) error {
			id := graphmatch.VertexID(lastPart(k))
			data := vertices.Get([]byte(id))
			if data == nil {
				return nil
			}
			v, err := decodeVertex(id, data)
			if err != nil {
				return err
			}
			if attr == nil || attr.Matches(v.Props) {
				out = append(out, v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadEdges implements graphmatch.StorageAdapter.
func (s *Store) LoadEdges(ctx context.Context, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, bucketIdxEdgeLabel, keyPrefix(label), attr)
}

// LoadEdgesBySrc implements graphmatch.StorageAdapter.
func (s *Store) LoadEdgesBySrc(ctx context.Context, src graphmatch.VertexID, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, bucketAdjOut, keyPrefix(string(src), label), attr)
}

// LoadEdgesByDst implements graphmatch.StorageAdapter.
func (s *Store) LoadEdgesByDst(ctx context.Context, dst graphmatch.VertexID, label string, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	return s.loadEdges(ctx, bucketAdjIn, keyPrefix(string(dst), label), attr)
}

func (s *Store) loadEdges(ctx context.Context, index []byte, prefix []byte, attr *graphmatch.PatternAttr) ([]*graphmatch.DataEdge, error) {
	var out []*graphmatch.DataEdge
	err := s.view(func(tx *bolt.Tx) error {
		edges := tx.Bucket(bucketEdges)
		return forEachWithPrefix(ctx, tx.Bucket(index), prefix, func(k []byte) error {
			id := graphmatch.EdgeID(lastPart(k))
			data := edges.Get([]byte(id))
			if data == nil {
				return nil
			}
			e, err := decodeEdge(id, data)
			if err != nil {
				return err
			}
			if attr == nil || attr.Matches(e.Props) {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// forEachWithPrefix iterates over all keys in bucket b that start with prefix.
func forEachWithPrefix(ctx context.Context, b *bolt.Bucket, prefix []byte, fn func(k []byte) error) error {
	if b == nil {
		return nil
	}
	c := b.Cursor()
	n := 0
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}
