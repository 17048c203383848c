package graphmatch

import (
	"sort"
)

// DanglingEdge is a data edge with exactly one endpoint bound.
type DanglingEdge struct {
	Edge    *DataEdge
	Pattern PatternID // pattern edge the data edge matched
	Pending PatternID // pattern vertex the open endpoint must bind to
}

// ExpandingSubgraph is a DynSubgraph being extended by one pattern vertex.
// It carries dangling edges that wait for their open endpoint, and the
// target vertices accepted to close them. Finalising adds the accepted
// targets and only the dangling edges they close; the remaining dangling
// edges are dropped.
type ExpandingSubgraph struct {
	graph     *DynSubgraph
	dangling  pmap[DanglingEdge]
	targets   pmap[*DataVertex]
	targetPat pmap[PatternID]
	targetAdj pmap[adjEntry]
}

// NewExpandingSubgraph wraps a copy of g with no dangling edges.
func NewExpandingSubgraph(g *DynSubgraph) *ExpandingSubgraph {
	return &ExpandingSubgraph{graph: g.Clone()}
}

// Clone returns an independent copy.
func (x *ExpandingSubgraph) Clone() *ExpandingSubgraph {
	c := *x
	c.graph = x.graph.Clone()
	return &c
}

// Graph returns a copy of the wrapped subgraph.
func (x *ExpandingSubgraph) Graph() *DynSubgraph { return x.graph.Clone() }

func (x *ExpandingSubgraph) VertexCount() int  { return x.graph.VertexCount() }
func (x *ExpandingSubgraph) DanglingCount() int { return x.dangling.len() }
func (x *ExpandingSubgraph) TargetCount() int  { return x.targets.len() }

// DanglingEdges returns the dangling edges ordered by edge id.
func (x *ExpandingSubgraph) DanglingEdges() []DanglingEdge {
	out := make([]DanglingEdge, 0, x.dangling.len())
	x.dangling.walk(func(_ string, d DanglingEdge) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Targets returns the accepted target vertices ordered by id.
func (x *ExpandingSubgraph) Targets() []*DataVertex {
	out := make([]*DataVertex, 0, x.targets.len())
	x.targets.walk(func(_ string, v *DataVertex) bool {
		out = append(out, v)
		return true
	})
	return out
}

// PendingVertex returns the unbound endpoint of a dangling edge.
func (x *ExpandingSubgraph) PendingVertex(e *DataEdge) VertexID {
	if x.graph.HasVertex(e.Src) {
		return e.Dst
	}
	return e.Src
}

// UpdateValidDanglingEdges attaches the edges that touch the subgraph
// without being fully inside it and whose id is not already absorbed.
// The rejected edges are returned. The wrapped subgraph is not modified.
func (x *ExpandingSubgraph) UpdateValidDanglingEdges(ds []DanglingEdge) (rejected []DanglingEdge) {
	for _, d := range ds {
		e := d.Edge
		if !x.graph.IsEdgeConnective(e) || x.graph.IsEdgeFullyConnective(e) || x.graph.HasEdge(e.ID) {
			rejected = append(rejected, d)
			continue
		}
		x.dangling = x.dangling.set(string(e.ID), d)
	}
	if x.targets.len() > 0 {
		x.rebuildTargetAdj()
	}
	return rejected
}

// UpdateValidTargetVertices accepts, as bindings of pattern vertex pat, the
// vertices of vs that close some dangling edge and are not already part of
// the subgraph. It returns the accepted vertices in input order.
func (x *ExpandingSubgraph) UpdateValidTargetVertices(vs []*DataVertex, pat PatternID) (accepted []*DataVertex) {
	if x.dangling.len() == 0 {
		return nil
	}
	open := x.openEnds(pat)
	for _, v := range vs {
		if open[v.ID] && !x.graph.HasVertex(v.ID) {
			x.acceptTarget(v, pat)
			accepted = append(accepted, v)
		}
	}
	if len(accepted) > 0 {
		x.rebuildTargetAdj()
	}
	return accepted
}

// AcceptCandidates is UpdateValidTargetVertices against a candidate set.
// It walks the dangling edges rather than the candidates, so its cost does
// not depend on the size of cs. Accepted vertices are ordered by id.
func (x *ExpandingSubgraph) AcceptCandidates(cs CandidateSet, pat PatternID) (accepted []*DataVertex) {
	open := x.openEnds(pat)
	ids := make([]VertexID, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		v, ok := cs[id]
		if !ok || x.graph.HasVertex(id) {
			continue
		}
		x.acceptTarget(v, pat)
		accepted = append(accepted, v)
	}
	if len(accepted) > 0 {
		x.rebuildTargetAdj()
	}
	return accepted
}

// openEnds returns the pending vertices of dangling edges waiting for pat.
func (x *ExpandingSubgraph) openEnds(pat PatternID) map[VertexID]bool {
	open := make(map[VertexID]bool)
	x.dangling.walk(func(_ string, d DanglingEdge) bool {
		if d.Pending == pat {
			open[x.PendingVertex(d.Edge)] = true
		}
		return true
	})
	return open
}

func (x *ExpandingSubgraph) acceptTarget(v *DataVertex, pat PatternID) {
	x.targets = x.targets.set(string(v.ID), v)
	x.targetPat = x.targetPat.set(string(v.ID), pat)
}

// rebuildTargetAdj recomputes the adjacency the accepted targets induce
// over the dangling edges.
func (x *ExpandingSubgraph) rebuildTargetAdj() {
	adj := pmap[adjEntry]{}
	x.dangling.walk(func(k string, d DanglingEdge) bool {
		pending := x.PendingVertex(d.Edge)
		pat, ok := x.targetPat.get(string(pending))
		if !ok || pat != d.Pending {
			return true
		}
		a, _ := adj.get(string(pending))
		if d.Edge.Src == pending {
			a.out = a.out.add(k)
		}
		if d.Edge.Dst == pending {
			a.in = a.in.add(k)
		}
		adj = adj.set(string(pending), a)
		return true
	})
	x.targetAdj = adj
}

// GroupDanglingByPending groups the dangling edges by their unbound
// endpoint. Each group is ordered by edge id.
func (x *ExpandingSubgraph) GroupDanglingByPending() map[VertexID][]DanglingEdge {
	out := make(map[VertexID][]DanglingEdge)
	x.dangling.walk(func(_ string, d DanglingEdge) bool {
		p := x.PendingVertex(d.Edge)
		out[p] = append(out[p], d)
		return true
	})
	return out
}

// PendingVertexIDs returns the distinct unbound endpoints, sorted.
func (x *ExpandingSubgraph) PendingVertexIDs() []VertexID {
	return sortedVertexKeys(x.GroupDanglingByPending())
}

// ToDynSubgraph finalises the expansion with every accepted target.
// Dangling edges that no target closes are dropped.
func (x *ExpandingSubgraph) ToDynSubgraph() (*DynSubgraph, error) {
	g := x.graph.Clone()
	x.targets.walk(func(k string, v *DataVertex) bool {
		pat, _ := x.targetPat.get(k)
		g.UpdateV(v, pat)
		return true
	})
	var err error
	x.targetAdj.walk(func(_ string, a adjEntry) bool {
		err = x.attach(g, a)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// SplitByTarget finalises the expansion once per accepted target, in
// target id order. Each result holds one target and the dangling edges
// that target closes.
func (x *ExpandingSubgraph) SplitByTarget() ([]*DynSubgraph, error) {
	out := make([]*DynSubgraph, 0, x.targets.len())
	var err error
	x.targets.walk(func(k string, v *DataVertex) bool {
		g := x.graph.Clone()
		pat, _ := x.targetPat.get(k)
		g.UpdateV(v, pat)
		if a, ok := x.targetAdj.get(k); ok {
			if err = x.attach(g, a); err != nil {
				return false
			}
		}
		out = append(out, g)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x *ExpandingSubgraph) attach(g *DynSubgraph, a adjEntry) error {
	var err error
	add := func(eid string, _ struct{}) bool {
		d, ok := x.dangling.get(eid)
		if !ok {
			return true
		}
		err = g.UpdateE(d.Edge, d.Pattern)
		return err == nil
	}
	a.out.walk(add)
	if err == nil {
		a.in.walk(add)
	}
	return err
}

// Merge reconciles two expansions that point at the same unresolved
// pattern vertex. Subset vertex sets use MergeOnSharedVertex, disjoint
// ones MergeOnDisjointUnion. Partially overlapping operands are unioned
// like disjoint ones. Operands that bind a shared vertex or edge to
// different pattern elements cannot describe one match and yield nothing.
func Merge(a, b *ExpandingSubgraph) []*ExpandingSubgraph {
	if a.graph.ConflictsWith(b.graph) {
		return nil
	}
	switch {
	case a.graph.VertexSetSubsetOf(b.graph):
		return mergeShared(a, b)
	case b.graph.VertexSetSubsetOf(a.graph):
		return mergeShared(b, a)
	default:
		return mergeUnion(a, b)
	}
}

// MergeOnSharedVertex attaches the dangling edges of the operand whose
// vertex set is contained in the other's ("unused") to clones of the
// larger operand ("incomplete"), one clone per pending vertex the two
// have in common. Operands that are not in a subset relation are handed
// to Merge.
func MergeOnSharedVertex(unused, incomplete *ExpandingSubgraph) []*ExpandingSubgraph {
	if unused.graph.ConflictsWith(incomplete.graph) {
		return nil
	}
	switch {
	case unused.graph.VertexSetSubsetOf(incomplete.graph):
		return mergeShared(unused, incomplete)
	case incomplete.graph.VertexSetSubsetOf(unused.graph):
		return mergeShared(incomplete, unused)
	}
	return Merge(unused, incomplete)
}

// MergeOnDisjointUnion unions both subgraphs into a new one and, for each
// pending vertex both operands wait on, builds one expansion holding the
// dangling edges of both sides. Operands sharing a vertex are handed to
// Merge.
//
// The union may bind more data elements than the pattern has before the
// pending vertex is resolved; Report and Execute filter such results.
func MergeOnDisjointUnion(left, right *ExpandingSubgraph) []*ExpandingSubgraph {
	if left.graph.SharesVertexWith(right.graph) {
		return Merge(left, right)
	}
	return mergeUnion(left, right)
}

func mergeShared(unused, incomplete *ExpandingSubgraph) []*ExpandingSubgraph {
	want := incomplete.GroupDanglingByPending()
	have := unused.GroupDanglingByPending()
	var out []*ExpandingSubgraph
	for _, pending := range sortedVertexKeys(have) {
		if _, ok := want[pending]; !ok {
			continue
		}
		merged := incomplete.Clone()
		merged.UpdateValidDanglingEdges(have[pending])
		out = append(out, merged)
	}
	return out
}

func mergeUnion(left, right *ExpandingSubgraph) []*ExpandingSubgraph {
	gl := left.GroupDanglingByPending()
	gr := right.GroupDanglingByPending()
	var union *DynSubgraph
	var out []*ExpandingSubgraph
	for _, pending := range sortedVertexKeys(gl) {
		r, ok := gr[pending]
		if !ok {
			continue
		}
		if union == nil {
			union = left.graph.Union(right.graph)
		}
		merged := &ExpandingSubgraph{graph: union.Clone()}
		ds := make([]DanglingEdge, 0, len(gl[pending])+len(r))
		ds = append(ds, gl[pending]...)
		ds = append(ds, r...)
		merged.UpdateValidDanglingEdges(ds)
		out = append(out, merged)
	}
	return out
}

func sortedVertexKeys[V any](m map[VertexID]V) []VertexID {
	out := make([]VertexID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
