package graphmatch

import (
	"context"
)

// StorageAdapter is the read interface the engine uses to reach the data
// graph. A nil attr means "no attribute predicate". Implementations must
// apply label and attr filtering themselves and return snapshots that are
// never mutated afterwards.
//
// Errors are returned to the caller of Execute unmodified (wrapped with
// %w), and the engine never retries.
type StorageAdapter interface {
	// GetVertex returns ErrVertexNotFound (possibly wrapped) for unknown ids.
	GetVertex(ctx context.Context, id VertexID) (*DataVertex, error)
	LoadVertices(ctx context.Context, label string, attr *PatternAttr) ([]*DataVertex, error)
	LoadEdges(ctx context.Context, label string, attr *PatternAttr) ([]*DataEdge, error)
	LoadEdgesBySrc(ctx context.Context, src VertexID, label string, attr *PatternAttr) ([]*DataEdge, error)
	LoadEdgesByDst(ctx context.Context, dst VertexID, label string, attr *PatternAttr) ([]*DataEdge, error)
}

// CacheClearer is implemented by adapters that memoise reads. The engine
// calls ClearCaches after every execution.
type CacheClearer interface {
	ClearCaches()
}

// Writer is implemented by adapters that accept bulk imports.
type Writer interface {
	PutVertices(ctx context.Context, vs []*DataVertex) error
	PutEdges(ctx context.Context, es []*DataEdge) error
}
