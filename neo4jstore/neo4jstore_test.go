package neo4jstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mstrYoda/graphmatch"
)

// fakeStore answers queries from canned records and remembers the last
// query it saw.
func fakeStore(t *testing.T, recs ...*neo4j.Record) (*Store, *string, *map[string]any) {
	t.Helper()
	var lastCypher string
	var lastParams map[string]any
	s := &Store{
		log: slog.Default(),
		run: func(_ context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
			lastCypher, lastParams = cypher, params
			return recs, nil
		},
	}
	return s, &lastCypher, &lastParams
}

func record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}

func TestGetVertex(t *testing.T) {
	s, cypher, params := fakeStore(t, record(
		"vid", "4:abc:1",
		"labels", []any{"Person", "Employee"},
		"props", map[string]any{"age": int64(42), "tags": []any{"x"}},
	))
	got, err := s.GetVertex(context.Background(), "4:abc:1")
	if err != nil {
		t.Fatalf("GetVertex: %v", err)
	}
	want := &graphmatch.DataVertex{ID: "4:abc:1", Label: "Person", Props: graphmatch.Props{"age": int64(42)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("vertex (-want +got):\n%s", diff)
	}
	if !strings.Contains(*cypher, "elementId(v) = $vid") || (*params)["vid"] != "4:abc:1" {
		t.Errorf("unexpected query %q with %v", *cypher, *params)
	}
}

func TestGetVertexNotFound(t *testing.T) {
	s, _, _ := fakeStore(t)
	if _, err := s.GetVertex(context.Background(), "nope"); !errors.Is(err, graphmatch.ErrVertexNotFound) {
		t.Errorf("expected ErrVertexNotFound, got %v", err)
	}
}

func TestLoadVerticesFiltersAttr(t *testing.T) {
	s, cypher, _ := fakeStore(t,
		record("vid", "1", "props", map[string]any{"id": int64(123)}),
		record("vid", "2", "props", map[string]any{"id": "123"}),
	)
	eq, _ := graphmatch.NewPatternAttr("id", graphmatch.OpEq, 123, graphmatch.AttrInt)
	got, err := s.LoadVertices(context.Background(), "Per`son", eq)
	if err != nil {
		t.Fatalf("LoadVertices: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" || got[0].Label != "Per`son" {
		t.Errorf("unexpected vertices: %v", got)
	}
	if !strings.Contains(*cypher, "MATCH (v:`Per``son`)") {
		t.Errorf("label not quoted: %q", *cypher)
	}
}

func TestLoadEdgesBySrc(t *testing.T) {
	s, cypher, params := fakeStore(t, record(
		"eid", "5:abc:9", "src_vid", "1", "dst_vid", "2", "props", map[string]any{"w": 1.5},
	))
	got, err := s.LoadEdgesBySrc(context.Background(), "1", "KNOWS", nil)
	if err != nil {
		t.Fatalf("LoadEdgesBySrc: %v", err)
	}
	want := []*graphmatch.DataEdge{{ID: "5:abc:9", Label: "KNOWS", Src: "1", Dst: "2", Props: graphmatch.Props{"w": 1.5}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
	if !strings.Contains(*cypher, "WHERE elementId(src) = $vid") || (*params)["vid"] != "1" {
		t.Errorf("unexpected query %q with %v", *cypher, *params)
	}
}

func TestMissingColumn(t *testing.T) {
	s, _, _ := fakeStore(t, record("eid", "1"))
	if _, err := s.LoadEdges(context.Background(), "KNOWS", nil); !errors.Is(err, errMissingColumn) {
		t.Errorf("expected errMissingColumn, got %v", err)
	}
}
