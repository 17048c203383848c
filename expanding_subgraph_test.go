package graphmatch

import (
	"testing"
)

func dangling(edge *DataEdge, pat, pending PatternID) DanglingEdge {
	return DanglingEdge{Edge: edge, Pattern: pat, Pending: pending}
}

func TestForeachFanOut(t *testing.T) {
	base := NewDynSubgraph()
	base.UpdateV(v("1", "Hub"), "u1")

	x := NewExpandingSubgraph(base)
	rejected := x.UpdateValidDanglingEdges([]DanglingEdge{
		dangling(e("a", "1", "2"), "e1", "u2"),
		dangling(e("b", "1", "3"), "e1", "u2"),
		dangling(e("c", "1", "4"), "e1", "u2"),
	})
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejected edges: %v", rejected)
	}

	cs := NewCandidateSet([]*DataVertex{v("2", "Leaf"), v("3", "Leaf"), v("4", "Leaf"), v("5", "Leaf")})
	c := &CBucket{}
	c.collect([]*ExpandingSubgraph{x}, cs, "u2")
	if c.Len() != 1 || len(c.Pivots[0]) != 3 {
		t.Fatalf("expected one expansion with 3 targets, got %d / %v", c.Len(), c.Pivots)
	}

	f, err := FBucketFromC(c)
	if err != nil {
		t.Fatalf("FBucketFromC: %v", err)
	}
	if f.Len() != 3 {
		t.Fatalf("expected 3 partial matches, got %d", f.Len())
	}
	seen := map[VertexID]bool{}
	for i, g := range f.Matched {
		if g.VertexCount() != 2 || g.EdgeCount() != 1 {
			t.Errorf("match %d: expected 2 vertices and 1 edge, got %s", i, g)
		}
		target := f.Pivots[i][0]
		if seen[target] {
			t.Errorf("target %s bound twice", target)
		}
		seen[target] = true
		if pat, _ := g.PatternOfVertex(target); pat != "u2" {
			t.Errorf("target %s tagged %q, want u2", target, pat)
		}
		if err := g.Validate(); err != nil {
			t.Errorf("match %d: %v", i, err)
		}
	}
	if base.VertexCount() != 1 {
		t.Error("fan-out mutated the wrapped subgraph")
	}
}

func TestUpdateValidDanglingEdgesRejects(t *testing.T) {
	g := pathGraph(t)
	x := NewExpandingSubgraph(g)
	rejected := x.UpdateValidDanglingEdges([]DanglingEdge{
		dangling(e("a", "1", "2"), "e1", "u2"), // already absorbed
		dangling(e("z", "1", "3"), "e9", "u3"), // both endpoints present
		dangling(e("y", "8", "9"), "e9", "u3"), // touches nothing
		dangling(e("w", "3", "7"), "e3", "u4"),
	})
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejected edges, got %d", len(rejected))
	}
	if x.DanglingCount() != 1 {
		t.Errorf("expected 1 dangling edge, got %d", x.DanglingCount())
	}
	if got := x.PendingVertexIDs(); len(got) != 1 || got[0] != "7" {
		t.Errorf("expected pending vertex 7, got %v", got)
	}
}

func TestMergeOnSharedVertex(t *testing.T) {
	// Triangle walk: {2}+b waiting for u3 and {2,3,a}+c waiting for u3.
	small := NewDynSubgraph()
	small.UpdateV(v("2", "Red"), "u1")
	unused := NewExpandingSubgraph(small)
	unused.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("b", "5", "2"), "e3", "u3")})

	big := small.Clone()
	big.UpdateV(v("3", "Blue"), "u2")
	big.UpdateE(e("a", "2", "3"), "e1")
	incomplete := NewExpandingSubgraph(big)
	incomplete.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("c", "3", "5"), "e2", "u3")})

	merged := Merge(unused, incomplete)
	if len(merged) != 1 {
		t.Fatalf("expected one merged expansion, got %d", len(merged))
	}
	m := merged[0]
	if m.VertexCount() != 2 || m.DanglingCount() != 2 {
		t.Fatalf("expected {2,3} with 2 dangling edges, got %d vertices, %d dangling", m.VertexCount(), m.DanglingCount())
	}

	accepted := m.AcceptCandidates(NewCandidateSet([]*DataVertex{v("5", "Green")}), "u3")
	if len(accepted) != 1 {
		t.Fatalf("expected vertex 5 to be accepted, got %v", accepted)
	}
	g, err := m.ToDynSubgraph()
	if err != nil {
		t.Fatalf("ToDynSubgraph: %v", err)
	}
	if !g.HasAllVertices("2", "3", "5") || g.EdgeCount() != 3 {
		t.Errorf("expected the closed triangle, got %s", g)
	}
	if incomplete.DanglingCount() != 1 || unused.DanglingCount() != 1 {
		t.Error("merge mutated its operands")
	}
}

func TestMergeOnDisjointUnion(t *testing.T) {
	left := NewDynSubgraph()
	left.UpdateV(v("1", "A"), "u1")
	l := NewExpandingSubgraph(left)
	l.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("p", "1", "9"), "e1", "u3")})

	right := NewDynSubgraph()
	right.UpdateV(v("2", "B"), "u2")
	r := NewExpandingSubgraph(right)
	r.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("q", "2", "9"), "e2", "u3")})

	merged := MergeOnDisjointUnion(l, r)
	if len(merged) != 1 {
		t.Fatalf("expected one expansion for the shared pending vertex, got %d", len(merged))
	}
	if merged[0].VertexCount() != 2 || merged[0].DanglingCount() != 2 {
		t.Errorf("expected union of both sides, got %d vertices, %d dangling",
			merged[0].VertexCount(), merged[0].DanglingCount())
	}
}

func TestMergeConflict(t *testing.T) {
	a := NewDynSubgraph()
	a.UpdateV(v("1", "A"), "u1")
	b := NewDynSubgraph()
	b.UpdateV(v("1", "A"), "u2")
	if got := Merge(NewExpandingSubgraph(a), NewExpandingSubgraph(b)); len(got) != 0 {
		t.Errorf("conflicting operands must not merge, got %d", len(got))
	}
}
