// Package storetest holds the behaviour every graphmatch storage backend
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mstrYoda/graphmatch"
)

// Backend is a store that can be filled and then queried.
type Backend interface {
	graphmatch.StorageAdapter
	graphmatch.Writer
}

// TrianglePlan matches a directed Red -> Blue -> Green -> Red triangle.
const TrianglePlan = `{
  "matching_order": ["u1", "u2", "u3"],
  "vertices": {"u1": ["Red", {}], "u2": ["Blue", {}], "u3": ["Green", {}]},
  "edges": {
    "e1": ["u1", "u2", "Edge", {}],
    "e2": ["u2", "u3", "Edge", {}],
    "e3": ["u3", "u1", "Edge", {}]
  },
  "instructions": [
    {"vid": "u1", "type": "init", "target_var": "f^u1"},
    {"vid": "u1", "type": "get_adj", "single_op": "f^u1", "expand_eid_list": ["e1", "e3"], "target_var": "A^u1"},
    {"vid": "u2", "type": "intersect", "single_op": "A^u1", "target_var": "C^u2"},
    {"vid": "u2", "type": "foreach", "single_op": "C^u2", "target_var": "f^u2"},
    {"vid": "u2", "type": "get_adj", "single_op": "f^u2", "expand_eid_list": ["e2"], "target_var": "A^u2"},
    {"vid": "u3", "type": "intersect", "multi_ops": ["A^u1", "A^u2"], "target_var": "T^u3"},
    {"vid": "u3", "type": "intersect", "single_op": "T^u3", "target_var": "C^u3"},
    {"vid": "u3", "type": "foreach", "single_op": "C^u3", "target_var": "f^u3"},
    {"type": "report"}
  ]
}`

// Vertices returns 1,2:Red 3,4:Blue 5:Green, with a mix of property types.
func Vertices() []*graphmatch.DataVertex {
	return []*graphmatch.DataVertex{
		{ID: "1", Label: "Red", Props: graphmatch.Props{"weight": 1, "name": "one"}},
		{ID: "2", Label: "Red", Props: graphmatch.Props{"weight": 2, "name": "two"}},
		{ID: "3", Label: "Blue", Props: graphmatch.Props{"score": 0.5}},
		{ID: "4", Label: "Blue", Props: graphmatch.Props{"score": 1.5}},
		{ID: "5", Label: "Green"},
	}
}

// Edges returns a:2->3 c:3->5 b:5->2 d:4->5, plus x:2->3 with another label.
func Edges() []*graphmatch.DataEdge {
	return []*graphmatch.DataEdge{
		{ID: "a", Label: "Edge", Src: "2", Dst: "3", Props: graphmatch.Props{"since": 2019}},
		{ID: "c", Label: "Edge", Src: "3", Dst: "5"},
		{ID: "b", Label: "Edge", Src: "5", Dst: "2"},
		{ID: "d", Label: "Edge", Src: "4", Dst: "5", Props: graphmatch.Props{"since": 2021}},
		{ID: "x", Label: "Other", Src: "2", Dst: "3"},
	}
}

// Fill writes the fixture graph into b.
func Fill(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	if err := b.PutVertices(ctx, Vertices()); err != nil {
		t.Fatalf("PutVertices: %v", err)
	}
	if err := b.PutEdges(ctx, Edges()); err != nil {
		t.Fatalf("PutEdges: %v", err)
	}
}

// Run exercises open() against the shared fixture. open must return an
// empty backend; cleanup is registered by the caller through t.Cleanup.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("GetVertex", func(t *testing.T) {
		b := open(t)
		Fill(t, b)
		got, err := b.GetVertex(context.Background(), "1")
		if err != nil {
			t.Fatalf("GetVertex: %v", err)
		}
		want := &graphmatch.DataVertex{ID: "1", Label: "Red", Props: graphmatch.Props{"weight": int64(1), "name": "one"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("vertex 1 (-want +got):\n%s", diff)
		}
		if _, err := b.GetVertex(context.Background(), "9"); !errors.Is(err, graphmatch.ErrVertexNotFound) {
			t.Errorf("expected ErrVertexNotFound, got %v", err)
		}
	})

	t.Run("LoadVertices", func(t *testing.T) {
		b := open(t)
		Fill(t, b)
		ctx := context.Background()
		got, err := b.LoadVertices(ctx, "Red", nil)
		if err != nil {
			t.Fatalf("LoadVertices: %v", err)
		}
		if diff := cmp.Diff([]graphmatch.VertexID{"1", "2"}, vertexIDs(got)); diff != "" {
			t.Errorf("Red vertices (-want +got):\n%s", diff)
		}

		gt, _ := graphmatch.NewPatternAttr("score", graphmatch.OpGt, 1.0, graphmatch.AttrFloat)
		got, err = b.LoadVertices(ctx, "Blue", gt)
		if err != nil {
			t.Fatalf("LoadVertices(score > 1.0): %v", err)
		}
		if diff := cmp.Diff([]graphmatch.VertexID{"4"}, vertexIDs(got)); diff != "" {
			t.Errorf("filtered Blue vertices (-want +got):\n%s", diff)
		}
		if got, _ := b.LoadVertices(ctx, "Purple", nil); len(got) != 0 {
			t.Errorf("unknown label returned %d vertices", len(got))
		}
	})

	t.Run("LoadEdges", func(t *testing.T) {
		b := open(t)
		Fill(t, b)
		ctx := context.Background()

		all, err := b.LoadEdges(ctx, "Edge", nil)
		if err != nil {
			t.Fatalf("LoadEdges: %v", err)
		}
		if diff := cmp.Diff([]graphmatch.EdgeID{"a", "b", "c", "d"}, edgeIDs(all)); diff != "" {
			t.Errorf("Edge edges (-want +got):\n%s", diff)
		}

		out, err := b.LoadEdgesBySrc(ctx, "2", "Edge", nil)
		if err != nil {
			t.Fatalf("LoadEdgesBySrc: %v", err)
		}
		if diff := cmp.Diff([]graphmatch.EdgeID{"a"}, edgeIDs(out)); diff != "" {
			t.Errorf("out-edges of 2 (-want +got):\n%s", diff)
		}
		if out[0].Src != "2" || out[0].Dst != "3" || out[0].Props["since"] != int64(2019) {
			t.Errorf("edge a decoded wrong: %+v", out[0])
		}

		in, err := b.LoadEdgesByDst(ctx, "5", "Edge", nil)
		if err != nil {
			t.Fatalf("LoadEdgesByDst: %v", err)
		}
		if diff := cmp.Diff([]graphmatch.EdgeID{"c", "d"}, edgeIDs(in)); diff != "" {
			t.Errorf("in-edges of 5 (-want +got):\n%s", diff)
		}

		after, _ := graphmatch.NewPatternAttr("since", graphmatch.OpGe, 2020, graphmatch.AttrInt)
		in, err = b.LoadEdgesByDst(ctx, "5", "Edge", after)
		if err != nil {
			t.Fatalf("LoadEdgesByDst(since >= 2020): %v", err)
		}
		if diff := cmp.Diff([]graphmatch.EdgeID{"d"}, edgeIDs(in)); diff != "" {
			t.Errorf("filtered in-edges of 5 (-want +got):\n%s", diff)
		}
	})

	t.Run("DanglingEdge", func(t *testing.T) {
		b := open(t)
		Fill(t, b)
		err := b.PutEdges(context.Background(), []*graphmatch.DataEdge{{ID: "z", Label: "Edge", Src: "1", Dst: "9"}})
		if !errors.Is(err, graphmatch.ErrDanglingEdge) {
			t.Fatalf("expected ErrDanglingEdge, got %v", err)
		}
	})

	t.Run("Triangle", func(t *testing.T) {
		b := open(t)
		Fill(t, b)
		e, err := graphmatch.FromPlan([]byte(TrianglePlan), b)
		if err != nil {
			t.Fatalf("FromPlan: %v", err)
		}
		defer e.Close()
		got, err := e.Execute(context.Background())
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 match, got %d", len(got))
		}
		if !got[0].HasAllVertices("2", "3", "5") || got[0].EdgeCount() != 3 {
			t.Errorf("unexpected match %s", got[0])
		}
	})
}

func vertexIDs(vs []*graphmatch.DataVertex) []graphmatch.VertexID {
	out := make([]graphmatch.VertexID, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func edgeIDs(es []*graphmatch.DataEdge) []graphmatch.EdgeID {
	out := make([]graphmatch.EdgeID, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
