package graphmatch_test

import (
	"context"
	"testing"

	"github.com/mstrYoda/graphmatch"
	"github.com/mstrYoda/graphmatch/internal/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend { return graphmatch.NewMemoryStore() })
}

func TestCachedStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		cs, err := graphmatch.NewCachedStore(graphmatch.NewMemoryStore(), 64, nil)
		if err != nil {
			t.Fatalf("NewCachedStore: %v", err)
		}
		return cachedWriter{cs}
	})
}

// cachedWriter forwards writes past the cache. Reads in the suite only
// happen after all writes, so the cache never serves stale data.
type cachedWriter struct{ *graphmatch.CachedStore }

func (c cachedWriter) PutVertices(ctx context.Context, vs []*graphmatch.DataVertex) error {
	return c.Inner().(graphmatch.Writer).PutVertices(ctx, vs)
}

func (c cachedWriter) PutEdges(ctx context.Context, es []*graphmatch.DataEdge) error {
	return c.Inner().(graphmatch.Writer).PutEdges(ctx, es)
}
