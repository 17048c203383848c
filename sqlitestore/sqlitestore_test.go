package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mstrYoda/graphmatch"
	"github.com/mstrYoda/graphmatch/internal/storetest"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "graph.sqlite"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend { return testStore(t) })
}

func TestReset(t *testing.T) {
	s := testStore(t)
	storetest.Fill(t, s)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Vertices != 5 || st.Edges != 5 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st, _ := s.Stats(ctx); st.Vertices != 0 || st.Edges != 0 {
		t.Errorf("expected empty store after reset, got %+v", st)
	}
}

func TestReplaceAttributes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.InsertVertices(ctx, []*graphmatch.DataVertex{{ID: "p", Label: "Person", Props: graphmatch.Props{"age": 30, "name": "ann"}}}); err != nil {
		t.Fatalf("InsertVertices: %v", err)
	}
	if err := s.InsertVertices(ctx, []*graphmatch.DataVertex{{ID: "p", Label: "Person", Props: graphmatch.Props{"age": 31}}}); err != nil {
		t.Fatalf("InsertVertices: %v", err)
	}
	v, err := s.GetVertex(ctx, "p")
	if err != nil {
		t.Fatalf("GetVertex: %v", err)
	}
	if len(v.Props) != 1 || v.Props["age"] != int64(31) {
		t.Errorf("stale attributes after replace: %v", v.Props)
	}
}

func TestLegacyTypeNames(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.InsertVertices(ctx, []*graphmatch.DataVertex{{ID: "p", Label: "Person"}}); err != nil {
		t.Fatalf("InsertVertices: %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO vertex_attribute (vid, key, value, type) VALUES ('p', 'name', 'bob', 'str')"); err != nil {
		t.Fatalf("insert attribute: %v", err)
	}
	eq, _ := graphmatch.NewPatternAttr("name", graphmatch.OpEq, "bob", graphmatch.AttrString)
	got, err := s.LoadVertices(ctx, "Person", eq)
	if err != nil {
		t.Fatalf("LoadVertices: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected the str-typed attribute to match, got %v", got)
	}
}

func TestInsertEdgesIsAtomic(t *testing.T) {
	s := testStore(t)
	storetest.Fill(t, s)
	ctx := context.Background()
	err := s.InsertEdges(ctx, []*graphmatch.DataEdge{
		{ID: "ok", Label: "Edge", Src: "1", Dst: "2"},
		{ID: "bad", Label: "Edge", Src: "8", Dst: "9"},
	})
	var de *graphmatch.DanglingEdgeError
	if !errors.As(err, &de) || de.Kind != graphmatch.DanglingBoth {
		t.Fatalf("expected completely dangling edge error, got %v", err)
	}
	if out, _ := s.LoadEdgesBySrc(ctx, "1", "Edge", nil); len(out) != 0 {
		t.Errorf("edge of the failed batch was stored: %v", out)
	}
}
