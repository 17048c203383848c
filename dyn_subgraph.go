package graphmatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RemoveCascade selects how much RemoveV takes with it.
type RemoveCascade int

const (
	// SelfOnly removes the vertex and fails if it still has incident edges.
	SelfOnly RemoveCascade = iota
	// WithEdges removes the vertex and every incident edge.
	WithEdges
	// WithEdgesAndVertices also removes every neighbour, with its edges.
	WithEdgesAndVertices
)

type adjEntry struct {
	in  pset
	out pset
}

// DynSubgraph is a partially built data subgraph. Every vertex and edge is
// tagged with the pattern element it was matched against.
//
// Invariants, held after every exported operation:
//   - every edge has both endpoints in the vertex set;
//   - the adjacency index records exactly the edges of the edge set;
//   - the pattern inverse maps are the exact inverse of the tag maps.
//
// All maps are persistent, so Clone is O(1) and a clone never observes
// mutations of the original.
type DynSubgraph struct {
	vertices  pmap[*DataVertex]
	edges     pmap[*DataEdge]
	adj       pmap[adjEntry]
	vPattern  pmap[PatternID]
	ePattern  pmap[PatternID]
	patternVs pmap[pset]
	patternEs pmap[pset]
}

// NewDynSubgraph returns an empty subgraph.
func NewDynSubgraph() *DynSubgraph {
	return &DynSubgraph{}
}

// Clone returns an independent copy.
func (g *DynSubgraph) Clone() *DynSubgraph {
	c := *g
	return &c
}

// HasVertex reports whether data vertex id is bound.
func (g *DynSubgraph) HasVertex(id VertexID) bool { return g.vertices.has(string(id)) }

// HasEdge reports whether data edge id is bound.
func (g *DynSubgraph) HasEdge(id EdgeID) bool { return g.edges.has(string(id)) }

// HasAllVertices reports whether every id is bound.
func (g *DynSubgraph) HasAllVertices(ids ...VertexID) bool {
	for _, id := range ids {
		if !g.HasVertex(id) {
			return false
		}
	}
	return true
}

func (g *DynSubgraph) HasAnyVertex(ids ...VertexID) bool {
	for _, id := range ids {
		if g.HasVertex(id) {
			return true
		}
	}
	return false
}

// Vertex returns the bound data vertex id.
func (g *DynSubgraph) Vertex(id VertexID) (*DataVertex, bool) { return g.vertices.get(string(id)) }

// Edge returns the bound data edge id.
func (g *DynSubgraph) Edge(id EdgeID) (*DataEdge, bool) { return g.edges.get(string(id)) }

// VertexCount returns the number of bound vertices.
func (g *DynSubgraph) VertexCount() int { return g.vertices.len() }

// EdgeCount returns the number of bound edges.
func (g *DynSubgraph) EdgeCount() int { return g.edges.len() }

// VertexIDs returns the vertex ids in sorted order.
func (g *DynSubgraph) VertexIDs() []VertexID {
	out := make([]VertexID, 0, g.vertices.len())
	g.vertices.walk(func(k string, _ *DataVertex) bool {
		out = append(out, VertexID(k))
		return true
	})
	return out
}

// EdgeIDs returns the edge ids in sorted order.
func (g *DynSubgraph) EdgeIDs() []EdgeID {
	out := make([]EdgeID, 0, g.edges.len())
	g.edges.walk(func(k string, _ *DataEdge) bool {
		out = append(out, EdgeID(k))
		return true
	})
	return out
}

// Vertices returns the vertex snapshots ordered by id.
func (g *DynSubgraph) Vertices() []*DataVertex {
	out := make([]*DataVertex, 0, g.vertices.len())
	g.vertices.walk(func(_ string, v *DataVertex) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Edges returns the edge snapshots ordered by id.
func (g *DynSubgraph) Edges() []*DataEdge {
	out := make([]*DataEdge, 0, g.edges.len())
	g.edges.walk(func(_ string, e *DataEdge) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Adjacency returns the incoming and outgoing edge ids of a vertex.
func (g *DynSubgraph) Adjacency(id VertexID) (VNode, bool) {
	a, ok := g.adj.get(string(id))
	if !ok {
		return VNode{}, false
	}
	n := VNode{}
	for _, k := range a.in.keys() {
		n.In = append(n.In, EdgeID(k))
	}
	for _, k := range a.out.keys() {
		n.Out = append(n.Out, EdgeID(k))
	}
	return n, true
}

// UpdateV adds the vertex, or re-tags it if it is already present.
func (g *DynSubgraph) UpdateV(v *DataVertex, pat PatternID) {
	key := string(v.ID)
	g.vertices = g.vertices.set(key, v)
	if !g.adj.has(key) {
		g.adj = g.adj.set(key, adjEntry{})
	}
	g.vPattern, g.patternVs = retag(g.vPattern, g.patternVs, key, pat)
}

// UpdateVBatch adds vs[i] tagged with pats[i].
func (g *DynSubgraph) UpdateVBatch(vs []*DataVertex, pats []PatternID) error {
	if len(vs) != len(pats) {
		return fmt.Errorf("graphmatch: UpdateVBatch: %d vertices, %d pattern ids", len(vs), len(pats))
	}
	for i, v := range vs {
		g.UpdateV(v, pats[i])
	}
	return nil
}

// UpdateE adds the edge tagged with pat. Both endpoints must already be
// present; otherwise a *DanglingEdgeError is returned and g is unchanged.
func (g *DynSubgraph) UpdateE(e *DataEdge, pat PatternID) error {
	if err := g.checkEndpoints(e); err != nil {
		return err
	}
	g.insertEdge(e, pat)
	return nil
}

// UpdateEBatch adds es[i] tagged with pats[i]. The batch is validated as a
// whole before anything is applied.
func (g *DynSubgraph) UpdateEBatch(es []*DataEdge, pats []PatternID) error {
	if len(es) != len(pats) {
		return fmt.Errorf("graphmatch: UpdateEBatch: %d edges, %d pattern ids", len(es), len(pats))
	}
	for _, e := range es {
		if err := g.checkEndpoints(e); err != nil {
			return err
		}
	}
	for i, e := range es {
		g.insertEdge(e, pats[i])
	}
	return nil
}

func (g *DynSubgraph) checkEndpoints(e *DataEdge) error {
	src, dst := g.HasVertex(e.Src), g.HasVertex(e.Dst)
	if src && dst {
		return nil
	}
	return &DanglingEdgeError{Edge: e.ID, Src: e.Src, Dst: e.Dst, Kind: danglingKind(src, dst)}
}

func (g *DynSubgraph) insertEdge(e *DataEdge, pat PatternID) {
	key := string(e.ID)
	if old, ok := g.edges.get(key); ok && (old.Src != e.Src || old.Dst != e.Dst) {
		g.unlinkEdge(old)
	}
	g.edges = g.edges.set(key, e)

	src, _ := g.adj.get(string(e.Src))
	src.out = src.out.add(key)
	g.adj = g.adj.set(string(e.Src), src)

	dst, _ := g.adj.get(string(e.Dst))
	dst.in = dst.in.add(key)
	g.adj = g.adj.set(string(e.Dst), dst)

	g.ePattern, g.patternEs = retag(g.ePattern, g.patternEs, key, pat)
}

func (g *DynSubgraph) unlinkEdge(e *DataEdge) {
	key := string(e.ID)
	if a, ok := g.adj.get(string(e.Src)); ok {
		a.out = a.out.del(key)
		g.adj = g.adj.set(string(e.Src), a)
	}
	if a, ok := g.adj.get(string(e.Dst)); ok {
		a.in = a.in.del(key)
		g.adj = g.adj.set(string(e.Dst), a)
	}
}

// RemoveE removes an edge and purges it from the adjacency index.
// It reports whether the edge was present.
func (g *DynSubgraph) RemoveE(id EdgeID) bool {
	key := string(id)
	e, ok := g.edges.get(key)
	if !ok {
		return false
	}
	g.unlinkEdge(e)
	g.edges = g.edges.del(key)
	g.ePattern, g.patternEs = untag(g.ePattern, g.patternEs, key)
	return true
}

// RemoveEBatch removes every listed edge and returns how many were present.
func (g *DynSubgraph) RemoveEBatch(ids []EdgeID) int {
	n := 0
	for _, id := range ids {
		if g.RemoveE(id) {
			n++
		}
	}
	return n
}

// RemoveV removes a vertex according to the cascade level.
func (g *DynSubgraph) RemoveV(id VertexID, cascade RemoveCascade) error {
	key := string(id)
	a, ok := g.adj.get(key)
	if !ok {
		return nil
	}
	incident := append(a.in.keys(), a.out.keys()...)
	if cascade == SelfOnly && len(incident) > 0 {
		return fmt.Errorf("%w: %s has %d", ErrVertexHasEdges, id, len(incident))
	}

	var neighbours []VertexID
	for _, eid := range incident {
		if e, ok := g.edges.get(eid); ok && cascade == WithEdgesAndVertices {
			if other := e.Other(id); other != id {
				neighbours = append(neighbours, other)
			}
		}
		g.RemoveE(EdgeID(eid))
	}

	g.vertices = g.vertices.del(key)
	g.adj = g.adj.del(key)
	g.vPattern, g.patternVs = untag(g.vPattern, g.patternVs, key)

	for _, n := range neighbours {
		if err := g.RemoveV(n, WithEdges); err != nil {
			return err
		}
	}
	return nil
}

// EdgesBetween returns the edges src -> dst, plus dst -> src when
// bidirectional is set.
func (g *DynSubgraph) EdgesBetween(src, dst VertexID, bidirectional bool) []*DataEdge {
	s, ok1 := g.adj.get(string(src))
	d, ok2 := g.adj.get(string(dst))
	if !ok1 || !ok2 {
		return nil
	}
	seen := make(map[string]bool)
	var out []*DataEdge
	collect := func(from, to pset) {
		from.walk(func(k string, _ struct{}) bool {
			if to.has(k) && !seen[k] {
				seen[k] = true
				if e, ok := g.edges.get(k); ok {
					out = append(out, e)
				}
			}
			return true
		})
	}
	collect(s.out, d.in)
	if bidirectional {
		collect(s.in, d.out)
	}
	return out
}

// IsEdgeConnective reports whether at least one endpoint of e is present.
func (g *DynSubgraph) IsEdgeConnective(e *DataEdge) bool {
	return g.HasAnyVertex(e.Src, e.Dst)
}

// IsEdgeFullyConnective reports whether both endpoints of e are present.
func (g *DynSubgraph) IsEdgeFullyConnective(e *DataEdge) bool {
	return g.HasAllVertices(e.Src, e.Dst)
}

// FirstConnectiveVertex returns the first endpoint of e (src, then dst)
// that is present.
func (g *DynSubgraph) FirstConnectiveVertex(e *DataEdge) (VertexID, bool) {
	if g.HasVertex(e.Src) {
		return e.Src, true
	}
	if g.HasVertex(e.Dst) {
		return e.Dst, true
	}
	return "", false
}

// PatternOfVertex returns the pattern vertex data vertex id is tagged with.
func (g *DynSubgraph) PatternOfVertex(id VertexID) (PatternID, bool) {
	return g.vPattern.get(string(id))
}

// PatternOfEdge returns the pattern edge data edge id is tagged with.
func (g *DynSubgraph) PatternOfEdge(id EdgeID) (PatternID, bool) {
	return g.ePattern.get(string(id))
}

// HasPatternVertex reports whether some vertex is bound to pat.
func (g *DynSubgraph) HasPatternVertex(pat PatternID) bool {
	s, ok := g.patternVs.get(string(pat))
	return ok && s.len() > 0
}

// HasPatternEdge reports whether some edge is bound to pat.
func (g *DynSubgraph) HasPatternEdge(pat PatternID) bool {
	s, ok := g.patternEs.get(string(pat))
	return ok && s.len() > 0
}

// VerticesOfPattern returns the vertices bound to pat, sorted.
func (g *DynSubgraph) VerticesOfPattern(pat PatternID) []VertexID {
	s, _ := g.patternVs.get(string(pat))
	out := make([]VertexID, 0, s.len())
	for _, k := range s.keys() {
		out = append(out, VertexID(k))
	}
	return out
}

// EdgesOfPattern returns the edges bound to pat, sorted.
func (g *DynSubgraph) EdgesOfPattern(pat PatternID) []EdgeID {
	s, _ := g.patternEs.get(string(pat))
	out := make([]EdgeID, 0, s.len())
	for _, k := range s.keys() {
		out = append(out, EdgeID(k))
	}
	return out
}

// PatternVertexCounts returns, per pattern vertex, how many data vertices
// are bound to it.
func (g *DynSubgraph) PatternVertexCounts() map[PatternID]int {
	return patternCounts(g.patternVs)
}

// PatternEdgeCounts returns, per pattern edge, how many data edges are
// bound to it.
func (g *DynSubgraph) PatternEdgeCounts() map[PatternID]int {
	return patternCounts(g.patternEs)
}

// IsSubgraphOf reports g ≤ other: every vertex, edge, adjacency entry and
// pattern tag of g is also present in other.
func (g *DynSubgraph) IsSubgraphOf(other *DynSubgraph) bool {
	if g.vertices.len() > other.vertices.len() || g.edges.len() > other.edges.len() {
		return false
	}
	ok := true
	g.vPattern.walk(func(k string, pat PatternID) bool {
		op, found := other.vPattern.get(k)
		ok = found && op == pat
		return ok
	})
	if !ok {
		return false
	}
	g.ePattern.walk(func(k string, pat PatternID) bool {
		op, found := other.ePattern.get(k)
		ok = found && op == pat
		return ok
	})
	if !ok {
		return false
	}
	g.adj.walk(func(k string, a adjEntry) bool {
		oa, found := other.adj.get(k)
		ok = found && a.in.subsetOf(oa.in) && a.out.subsetOf(oa.out)
		return ok
	})
	return ok
}

// Equal reports whether g and other have the same adjacency and the same
// pattern tags.
func (g *DynSubgraph) Equal(other *DynSubgraph) bool {
	if g == other {
		return true
	}
	return g.vertices.len() == other.vertices.len() &&
		g.edges.len() == other.edges.len() &&
		g.IsSubgraphOf(other)
}

// Union returns a new subgraph holding the vertices and edges of both.
// Elements present in both keep g's tag; use ConflictsWith to detect
// disagreeing tags beforehand.
func (g *DynSubgraph) Union(other *DynSubgraph) *DynSubgraph {
	r := g.Clone()
	other.vertices.walk(func(k string, v *DataVertex) bool {
		if !r.vertices.has(k) {
			pat, _ := other.vPattern.get(k)
			r.UpdateV(v, pat)
		}
		return true
	})
	other.edges.walk(func(k string, e *DataEdge) bool {
		if !r.edges.has(k) {
			pat, _ := other.ePattern.get(k)
			r.insertEdge(e, pat)
		}
		return true
	})
	return r
}

// ConflictsWith reports whether some vertex or edge present in both
// subgraphs is bound to different pattern elements.
func (g *DynSubgraph) ConflictsWith(other *DynSubgraph) bool {
	small, large := g, other
	if small.vertices.len() > large.vertices.len() {
		small, large = large, small
	}
	conflict := false
	small.vPattern.walk(func(k string, pat PatternID) bool {
		if op, ok := large.vPattern.get(k); ok && op != pat {
			conflict = true
		}
		return !conflict
	})
	if conflict {
		return true
	}
	small.ePattern.walk(func(k string, pat PatternID) bool {
		if op, ok := large.ePattern.get(k); ok && op != pat {
			conflict = true
		}
		return !conflict
	})
	return conflict
}

// SharesVertexWith reports whether the two vertex sets intersect.
func (g *DynSubgraph) SharesVertexWith(other *DynSubgraph) bool {
	small, large := g, other
	if small.vertices.len() > large.vertices.len() {
		small, large = large, small
	}
	shared := false
	small.vertices.walk(func(k string, _ *DataVertex) bool {
		shared = large.vertices.has(k)
		return !shared
	})
	return shared
}

// VertexSetSubsetOf reports whether every vertex id of g is in other.
func (g *DynSubgraph) VertexSetSubsetOf(other *DynSubgraph) bool {
	return g.vertices.subsetOf(other.vertices)
}

// Components returns the weakly connected components, each sorted, in
// order of their smallest vertex id.
func (g *DynSubgraph) Components() [][]VertexID {
	seen := make(map[string]bool, g.vertices.len())
	var comps [][]VertexID
	for _, start := range g.vertices.keys() {
		if seen[start] {
			continue
		}
		seen[start] = true
		comp := []VertexID{}
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, VertexID(cur))
			a, _ := g.adj.get(cur)
			visit := func(eid string, _ struct{}) bool {
				if e, ok := g.edges.get(eid); ok {
					n := string(e.Other(VertexID(cur)))
					if !seen[n] {
						seen[n] = true
						queue = append(queue, n)
					}
				}
				return true
			}
			a.in.walk(visit)
			a.out.walk(visit)
		}
		sort.Slice(comp, func(i, j int) bool { return comp[i] < comp[j] })
		comps = append(comps, comp)
	}
	return comps
}

// IsConnected reports whether g has at most one weakly connected component.
func (g *DynSubgraph) IsConnected() bool {
	return len(g.Components()) <= 1
}

// Key returns a canonical string identifying the subgraph's structure and
// pattern tags. Two subgraphs are Equal iff their keys are equal.
func (g *DynSubgraph) Key() string {
	var sb strings.Builder
	g.vPattern.walk(func(k string, pat PatternID) bool {
		sb.WriteString("v\x1f")
		sb.WriteString(k)
		sb.WriteByte('\x1f')
		sb.WriteString(string(pat))
		sb.WriteByte('\x1e')
		return true
	})
	g.edges.walk(func(k string, e *DataEdge) bool {
		pat, _ := g.ePattern.get(k)
		sb.WriteString("e\x1f")
		sb.WriteString(k)
		sb.WriteByte('\x1f')
		sb.WriteString(string(pat))
		sb.WriteByte('\x1f')
		sb.WriteString(string(e.Src))
		sb.WriteByte('\x1f')
		sb.WriteString(string(e.Dst))
		sb.WriteByte('\x1e')
		return true
	})
	return sb.String()
}

// String returns a compact human-readable form: V[id:pattern ...] E[...].
func (g *DynSubgraph) String() string {
	var sb strings.Builder
	sb.WriteString("V[")
	first := true
	g.vPattern.walk(func(k string, pat PatternID) bool {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&sb, "%s:%s", k, pat)
		return true
	})
	sb.WriteString("] E[")
	first = true
	g.edges.walk(func(k string, e *DataEdge) bool {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		pat, _ := g.ePattern.get(k)
		fmt.Fprintf(&sb, "%s:%s(%s->%s)", k, pat, e.Src, e.Dst)
		return true
	})
	sb.WriteString("]")
	return sb.String()
}

// Validate checks the structural invariants and returns the first
// violation found.
func (g *DynSubgraph) Validate() error {
	var err error
	g.edges.walk(func(k string, e *DataEdge) bool {
		if !g.HasAllVertices(e.Src, e.Dst) {
			err = fmt.Errorf("graphmatch: edge %s has a missing endpoint", k)
			return false
		}
		s, _ := g.adj.get(string(e.Src))
		d, _ := g.adj.get(string(e.Dst))
		if !s.out.has(k) || !d.in.has(k) {
			err = fmt.Errorf("graphmatch: edge %s missing from adjacency", k)
			return false
		}
		if !g.ePattern.has(k) {
			err = fmt.Errorf("graphmatch: edge %s has no pattern tag", k)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	g.adj.walk(func(k string, a adjEntry) bool {
		if !g.vertices.has(k) {
			err = fmt.Errorf("graphmatch: adjacency entry for absent vertex %s", k)
			return false
		}
		check := func(eid string, _ struct{}) bool {
			if !g.edges.has(eid) {
				err = fmt.Errorf("graphmatch: adjacency of %s lists absent edge %s", k, eid)
			}
			return err == nil
		}
		a.in.walk(check)
		if err == nil {
			a.out.walk(check)
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	if err := checkInverse(g.vPattern, g.patternVs, "vertex"); err != nil {
		return err
	}
	return checkInverse(g.ePattern, g.patternEs, "edge")
}

type subgraphJSON struct {
	Vertices []boundVertex `json:"vertices"`
	Edges    []boundEdge   `json:"edges"`
}

type boundVertex struct {
	*DataVertex
	Pattern PatternID `json:"pattern"`
}

type boundEdge struct {
	*DataEdge
	Pattern PatternID `json:"pattern"`
}

// MarshalJSON encodes the subgraph with the pattern binding of every element.
func (g *DynSubgraph) MarshalJSON() ([]byte, error) {
	out := subgraphJSON{Vertices: []boundVertex{}, Edges: []boundEdge{}}
	for _, v := range g.Vertices() {
		pat, _ := g.PatternOfVertex(v.ID)
		out.Vertices = append(out.Vertices, boundVertex{DataVertex: v, Pattern: pat})
	}
	for _, e := range g.Edges() {
		pat, _ := g.PatternOfEdge(e.ID)
		out.Edges = append(out.Edges, boundEdge{DataEdge: e, Pattern: pat})
	}
	return json.Marshal(out)
}

func retag(fwd pmap[PatternID], inv pmap[pset], key string, pat PatternID) (pmap[PatternID], pmap[pset]) {
	if old, ok := fwd.get(key); ok {
		if old == pat {
			return fwd, inv
		}
		_, inv = untag(fwd, inv, key)
	}
	fwd = fwd.set(key, pat)
	members, _ := inv.get(string(pat))
	inv = inv.set(string(pat), members.add(key))
	return fwd, inv
}

func untag(fwd pmap[PatternID], inv pmap[pset], key string) (pmap[PatternID], pmap[pset]) {
	old, ok := fwd.get(key)
	if !ok {
		return fwd, inv
	}
	fwd = fwd.del(key)
	members, _ := inv.get(string(old))
	members = members.del(key)
	if members.len() == 0 {
		inv = inv.del(string(old))
	} else {
		inv = inv.set(string(old), members)
	}
	return fwd, inv
}

func patternCounts(inv pmap[pset]) map[PatternID]int {
	out := make(map[PatternID]int, inv.len())
	inv.walk(func(k string, s pset) bool {
		out[PatternID(k)] = s.len()
		return true
	})
	return out
}

func checkInverse(fwd pmap[PatternID], inv pmap[pset], kind string) error {
	var err error
	total := 0
	inv.walk(func(pat string, members pset) bool {
		total += members.len()
		members.walk(func(k string, _ struct{}) bool {
			if got, ok := fwd.get(k); !ok || string(got) != pat {
				err = fmt.Errorf("graphmatch: %s %s listed under pattern %s but tagged %q", kind, k, pat, got)
			}
			return err == nil
		})
		return err == nil
	})
	if err == nil && total != fwd.len() {
		err = fmt.Errorf("graphmatch: %s pattern inverse holds %d entries, want %d", kind, total, fwd.len())
	}
	return err
}
