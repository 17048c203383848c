package graphmatch

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func v(id VertexID, label string) *DataVertex { return &DataVertex{ID: id, Label: label} }

func e(id EdgeID, src, dst VertexID) *DataEdge {
	return &DataEdge{ID: id, Label: "Edge", Src: src, Dst: dst}
}

// pathGraph builds 1 -a-> 2 -b-> 3 tagged u1, u2, u3 / e1, e2.
func pathGraph(t *testing.T) *DynSubgraph {
	t.Helper()
	g := NewDynSubgraph()
	g.UpdateV(v("1", "X"), "u1")
	g.UpdateV(v("2", "X"), "u2")
	g.UpdateV(v("3", "X"), "u3")
	if err := g.UpdateE(e("a", "1", "2"), "e1"); err != nil {
		t.Fatalf("UpdateE a: %v", err)
	}
	if err := g.UpdateE(e("b", "2", "3"), "e2"); err != nil {
		t.Fatalf("UpdateE b: %v", err)
	}
	return g
}

func TestDynSubgraphInvariants(t *testing.T) {
	g := pathGraph(t)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	adj, ok := g.Adjacency("2")
	if !ok {
		t.Fatal("vertex 2 has no adjacency")
	}
	if diff := cmp.Diff(VNode{In: []EdgeID{"a"}, Out: []EdgeID{"b"}}, adj); diff != "" {
		t.Errorf("adjacency of 2 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[PatternID]int{"u1": 1, "u2": 1, "u3": 1}, g.PatternVertexCounts()); diff != "" {
		t.Errorf("vertex pattern counts (-want +got):\n%s", diff)
	}
}

func TestDynSubgraphDanglingEdge(t *testing.T) {
	g := NewDynSubgraph()
	g.UpdateV(v("1", "X"), "u1")

	tests := []struct {
		edge *DataEdge
		kind DanglingKind
	}{
		{e("x", "9", "1"), DanglingSrc},
		{e("y", "1", "9"), DanglingDst},
		{e("z", "8", "9"), DanglingBoth},
	}
	for _, tt := range tests {
		err := g.UpdateE(tt.edge, "e1")
		var de *DanglingEdgeError
		if !errors.As(err, &de) {
			t.Fatalf("edge %s: expected DanglingEdgeError, got %v", tt.edge.ID, err)
		}
		if de.Kind != tt.kind {
			t.Errorf("edge %s: expected %s, got %s", tt.edge.ID, tt.kind, de.Kind)
		}
		if !errors.Is(err, ErrDanglingEdge) {
			t.Errorf("edge %s: error does not wrap ErrDanglingEdge", tt.edge.ID)
		}
	}
	if g.EdgeCount() != 0 {
		t.Errorf("rejected edges must not be stored, got %d", g.EdgeCount())
	}
}

func TestDynSubgraphBatchIsAtomic(t *testing.T) {
	g := pathGraph(t)
	err := g.UpdateEBatch([]*DataEdge{e("c", "3", "1"), e("d", "3", "9")}, []PatternID{"e3", "e4"})
	if err == nil {
		t.Fatal("expected batch with a dangling edge to fail")
	}
	if g.HasEdge("c") {
		t.Error("batch applied partially")
	}
}

func TestDynSubgraphRemoveV(t *testing.T) {
	g := pathGraph(t)
	if err := g.RemoveV("2", SelfOnly); !errors.Is(err, ErrVertexHasEdges) {
		t.Fatalf("expected ErrVertexHasEdges, got %v", err)
	}

	withEdges := g.Clone()
	if err := withEdges.RemoveV("2", WithEdges); err != nil {
		t.Fatalf("RemoveV WithEdges: %v", err)
	}
	if withEdges.VertexCount() != 2 || withEdges.EdgeCount() != 0 {
		t.Errorf("expected 2 vertices and no edges, got %s", withEdges)
	}

	all := g.Clone()
	if err := all.RemoveV("2", WithEdgesAndVertices); err != nil {
		t.Fatalf("RemoveV WithEdgesAndVertices: %v", err)
	}
	if all.VertexCount() != 0 {
		t.Errorf("expected isolated neighbours to be removed, got %s", all)
	}

	// The original is untouched by changes to its clones.
	if g.VertexCount() != 3 || g.EdgeCount() != 2 {
		t.Errorf("clone mutation leaked into original: %s", g)
	}
	for _, h := range []*DynSubgraph{g, withEdges, all} {
		if err := h.Validate(); err != nil {
			t.Errorf("Validate after remove: %v", err)
		}
	}
}

func TestDynSubgraphUnion(t *testing.T) {
	a := NewDynSubgraph()
	a.UpdateV(v("1", "X"), "u1")
	a.UpdateV(v("2", "X"), "u2")
	a.UpdateE(e("a", "1", "2"), "e1")

	b := NewDynSubgraph()
	b.UpdateV(v("3", "X"), "u3")
	b.UpdateV(v("4", "X"), "u4")
	b.UpdateE(e("c", "3", "4"), "e3")

	ab, ba := a.Union(b), b.Union(a)
	if !ab.Equal(ba) || ab.Key() != ba.Key() {
		t.Errorf("union of disjoint graphs is not commutative:\n%s\n%s", ab, ba)
	}
	if !a.Union(a).Equal(a) {
		t.Error("union is not idempotent")
	}
	if !a.IsSubgraphOf(ab) || !b.IsSubgraphOf(ab) {
		t.Error("operands must be subgraphs of the union")
	}
	if got := len(ab.Components()); got != 2 {
		t.Errorf("expected 2 components, got %d", got)
	}
	if err := ab.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDynSubgraphConflicts(t *testing.T) {
	a := NewDynSubgraph()
	a.UpdateV(v("1", "X"), "u1")
	b := NewDynSubgraph()
	b.UpdateV(v("1", "X"), "u2")
	if !a.ConflictsWith(b) {
		t.Error("expected conflicting tags to be detected")
	}
	c := NewDynSubgraph()
	c.UpdateV(v("1", "X"), "u1")
	c.UpdateV(v("2", "X"), "u2")
	if a.ConflictsWith(c) {
		t.Error("agreeing tags reported as conflict")
	}
	if !a.VertexSetSubsetOf(c) || c.VertexSetSubsetOf(a) {
		t.Error("unexpected subset relation")
	}
}

func TestDynSubgraphEdgesBetween(t *testing.T) {
	g := pathGraph(t)
	if got := g.EdgesBetween("2", "1", false); len(got) != 0 {
		t.Errorf("directed lookup against the edge direction returned %v", got)
	}
	got := g.EdgesBetween("2", "1", true)
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("expected edge a, got %v", got)
	}
}
