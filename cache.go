package graphmatch

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
)

// CachedStore memoises the reads of another StorageAdapter in bounded LRU
// caches owned by the adapter instance. Nothing is shared between stores,
// and the engine clears the caches after every execution.
//
// Cached slices are shared between callers and must not be modified.
type CachedStore struct {
	inner    StorageAdapter
	vertices *lru.Cache // VertexID -> *DataVertex
	loads    *lru.Cache // call key -> []*DataVertex or []*DataEdge
	metrics  *Metrics
}

// DefaultCacheSize is the per-cache entry limit used when size <= 0.
const DefaultCacheSize = 4096

// NewCachedStore wraps inner. m may be nil; when set, hits and misses are
// counted on it.
func NewCachedStore(inner StorageAdapter, size int, m *Metrics) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	vc, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	lc, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &Metrics{}
	}
	return &CachedStore{inner: inner, vertices: vc, loads: lc, metrics: m}, nil
}

// Inner returns the wrapped adapter.
func (c *CachedStore) Inner() StorageAdapter { return c.inner }

// Len returns the number of cached vertices and load results.
func (c *CachedStore) Len() (vertices, loads int) {
	return c.vertices.Len(), c.loads.Len()
}

// ClearCaches implements CacheClearer and forwards to the inner adapter.
func (c *CachedStore) ClearCaches() {
	c.vertices.Purge()
	c.loads.Purge()
	if cc, ok := c.inner.(CacheClearer); ok {
		cc.ClearCaches()
	}
}

// GetVertex serves id from the vertex cache, falling back to the inner adapter.
func (c *CachedStore) GetVertex(ctx context.Context, id VertexID) (*DataVertex, error) {
	if v, ok := c.vertices.Get(id); ok {
		c.metrics.CacheHits.Add(1)
		return v.(*DataVertex), nil
	}
	c.metrics.CacheMisses.Add(1)
	v, err := c.inner.GetVertex(ctx, id)
	if err != nil {
		return nil, err
	}
	c.vertices.Add(id, v)
	return v, nil
}

// LoadVertices caches the result per label and attribute filter and warms
// the vertex cache with it.
func (c *CachedStore) LoadVertices(ctx context.Context, label string, attr *PatternAttr) ([]*DataVertex, error) {
	key := loadKey("v", "", label, attr)
	if vs, ok := c.loads.Get(key); ok {
		c.metrics.CacheHits.Add(1)
		return vs.([]*DataVertex), nil
	}
	c.metrics.CacheMisses.Add(1)
	vs, err := c.inner.LoadVertices(ctx, label, attr)
	if err != nil {
		return nil, err
	}
	c.loads.Add(key, vs)
	for _, v := range vs {
		c.vertices.Add(v.ID, v)
	}
	return vs, nil
}

// LoadEdges caches the full edge scan per label and filter.
func (c *CachedStore) LoadEdges(ctx context.Context, label string, attr *PatternAttr) ([]*DataEdge, error) {
	return c.loadEdges("e", "", label, attr, func() ([]*DataEdge, error) {
		return c.inner.LoadEdges(ctx, label, attr)
	})
}

// LoadEdgesBySrc caches the out-edges of src per label and filter.
func (c *CachedStore) LoadEdgesBySrc(ctx context.Context, src VertexID, label string, attr *PatternAttr) ([]*DataEdge, error) {
	return c.loadEdges("s", src, label, attr, func() ([]*DataEdge, error) {
		return c.inner.LoadEdgesBySrc(ctx, src, label, attr)
	})
}

// LoadEdgesByDst caches the in-edges of dst per label and filter.
func (c *CachedStore) LoadEdgesByDst(ctx context.Context, dst VertexID, label string, attr *PatternAttr) ([]*DataEdge, error) {
	return c.loadEdges("d", dst, label, attr, func() ([]*DataEdge, error) {
		return c.inner.LoadEdgesByDst(ctx, dst, label, attr)
	})
}

func (c *CachedStore) loadEdges(kind string, vid VertexID, label string, attr *PatternAttr, load func() ([]*DataEdge, error)) ([]*DataEdge, error) {
	key := loadKey(kind, vid, label, attr)
	if es, ok := c.loads.Get(key); ok {
		c.metrics.CacheHits.Add(1)
		return es.([]*DataEdge), nil
	}
	c.metrics.CacheMisses.Add(1)
	es, err := load()
	if err != nil {
		return nil, err
	}
	c.loads.Add(key, es)
	return es, nil
}

func loadKey(kind string, vid VertexID, label string, attr *PatternAttr) string {
	return kind + "\x01" + string(vid) + "\x01" + label + "\x01" + attr.CacheKey()
}
