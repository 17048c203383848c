package graphmatch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildTFromTT(t *testing.T) {
	// Left: {1} waiting for u4 over 14. Right: {1,2,12} waiting for u4
	// over 24, and a second expansion waiting over 25 towards 5.
	lg := NewDynSubgraph()
	lg.UpdateV(v("1", "Red"), "u1")
	l := NewExpandingSubgraph(lg)
	l.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("14", "1", "4"), "e14", "u4")})

	rg := lg.Clone()
	rg.UpdateV(v("2", "Blue"), "u2")
	rg.UpdateE(e("12", "1", "2"), "e12")
	r4 := NewExpandingSubgraph(rg)
	r4.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("24", "2", "4"), "e24", "u4")})
	r5 := NewExpandingSubgraph(rg)
	r5.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("25", "2", "5"), "e24", "u4")})

	left := &TBucket{Target: "u4", Expanding: []*ExpandingSubgraph{l}}
	right := &TBucket{Target: "u4", Expanding: []*ExpandingSubgraph{r4, r5}}

	tb := BuildTFromTT(left, right)
	if tb.Target != "u4" {
		t.Errorf("target = %s, want u4", tb.Target)
	}
	if tb.Len() != 1 {
		t.Fatalf("expected one expansion closing on 4, got %d", tb.Len())
	}

	c := BuildCFromT(tb, NewCandidateSet([]*DataVertex{v("4", "Yellow"), v("5", "Yellow")}))
	if c.Len() != 1 {
		t.Fatalf("expected one accepted expansion, got %d", c.Len())
	}
	if diff := cmp.Diff([][]VertexID{{"4"}}, c.Pivots); diff != "" {
		t.Errorf("pivots (-want +got):\n%s", diff)
	}
	f, err := FBucketFromC(c)
	if err != nil {
		t.Fatalf("FBucketFromC: %v", err)
	}
	if f.Len() != 1 {
		t.Fatalf("expected one match, got %d", f.Len())
	}
	want := []matchSummary{{
		Vertices: map[VertexID]PatternID{"1": "u1", "2": "u2", "4": "u4"},
		Edges:    map[EdgeID]PatternID{"12": "e12", "14": "e14", "24": "e24"},
	}}
	if diff := cmp.Diff(want, summarize(f.Matched)); diff != "" {
		t.Errorf("match (-want +got):\n%s", diff)
	}
}

func TestBuildTFromTAPopsTarget(t *testing.T) {
	g := NewDynSubgraph()
	g.UpdateV(v("1", "Red"), "u1")
	x := NewExpandingSubgraph(g)
	x.UpdateValidDanglingEdges([]DanglingEdge{dangling(e("14", "1", "4"), "e14", "u4")})

	a := NewABucket("u1")
	a.add("u4", x)
	a.add("u2", NewExpandingSubgraph(g))

	tb := BuildTFromTA(&TBucket{Target: "u4", Expanding: []*ExpandingSubgraph{x}}, a)
	if tb.Len() != 1 {
		t.Errorf("expected one expansion, got %d", tb.Len())
	}
	if a.Has("u4") || !a.Has("u2") {
		t.Errorf("expected only the u4 group consumed, left %v", a.NextVertices())
	}
}
