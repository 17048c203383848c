package graphmatch

import (
	"sort"
)

// CandidateSet is a set of data vertices keyed by id.
type CandidateSet map[VertexID]*DataVertex

// NewCandidateSet indexes vs by id.
func NewCandidateSet(vs []*DataVertex) CandidateSet {
	cs := make(CandidateSet, len(vs))
	for _, v := range vs {
		cs[v.ID] = v
	}
	return cs
}

// Intersect returns the vertices present in both sets.
func (c CandidateSet) Intersect(other CandidateSet) CandidateSet {
	small, large := c, other
	if len(small) > len(large) {
		small, large = large, small
	}
	out := make(CandidateSet, len(small))
	for id, v := range small {
		if _, ok := large[id]; ok {
			out[id] = v
		}
	}
	return out
}

// IDs returns the vertex ids, sorted.
func (c CandidateSet) IDs() []VertexID {
	return sortedVertexKeys(c)
}

// FBucket is an enumeration target: the partial matches that bind a
// pattern vertex, each with the data vertices that are fresh expansion
// pivots for the next GetAdj.
type FBucket struct {
	Matched []*DynSubgraph
	Pivots  [][]VertexID // Pivots[i] belongs to Matched[i]
}

// Append adds a partial match with its pivots.
func (b *FBucket) Append(g *DynSubgraph, pivots ...VertexID) {
	b.Matched = append(b.Matched, g)
	b.Pivots = append(b.Pivots, pivots)
}

// Len returns the number of partial matches.
func (b *FBucket) Len() int { return len(b.Matched) }

// drain hands the contents to the caller and leaves the bucket empty.
func (b *FBucket) drain() ([]*DynSubgraph, [][]VertexID) {
	m, p := b.Matched, b.Pivots
	b.Matched, b.Pivots = nil, nil
	return m, p
}

// FBucketFromC realises the fan-out of a C-bucket: an expansion with N
// accepted targets becomes N partial matches, each pivoting on its target.
func FBucketFromC(c *CBucket) (*FBucket, error) {
	out := &FBucket{}
	for _, x := range c.Expanded {
		gs, err := x.SplitByTarget()
		if err != nil {
			return nil, err
		}
		targets := x.Targets()
		for i, g := range gs {
			out.Append(g, targets[i].ID)
		}
	}
	return out, nil
}

// ABucket holds the expansions produced by GetAdj, grouped by the not yet
// bound pattern vertex they point at. Each group is consumed once.
type ABucket struct {
	Current PatternID
	groups  map[PatternID][]*ExpandingSubgraph
	order   []PatternID
}

// NewABucket returns an empty A-bucket expanding from pattern vertex cur.
func NewABucket(cur PatternID) *ABucket {
	return &ABucket{Current: cur, groups: make(map[PatternID][]*ExpandingSubgraph)}
}

func (a *ABucket) add(next PatternID, xs ...*ExpandingSubgraph) {
	if _, ok := a.groups[next]; !ok {
		a.order = append(a.order, next)
	}
	a.groups[next] = append(a.groups[next], xs...)
}

// Pop removes and returns the group for next. A missing group is empty.
func (a *ABucket) Pop(next PatternID) []*ExpandingSubgraph {
	g, ok := a.groups[next]
	if !ok {
		return nil
	}
	delete(a.groups, next)
	for i, id := range a.order {
		if id == next {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return g
}

// Has reports whether an unconsumed group exists for next.
func (a *ABucket) Has(next PatternID) bool {
	_, ok := a.groups[next]
	return ok
}

// NextVertices returns the pattern vertices with unconsumed groups, in the
// order they were first populated.
func (a *ABucket) NextVertices() []PatternID {
	return append([]PatternID(nil), a.order...)
}

// Len returns the number of expansions over all groups.
func (a *ABucket) Len() int {
	n := 0
	for _, g := range a.groups {
		n += len(g)
	}
	return n
}

// CBucket holds expansions intersected with a candidate set, ready for
// Foreach. Pivots[i] lists the targets accepted by Expanded[i].
type CBucket struct {
	Expanded []*ExpandingSubgraph
	Pivots   [][]VertexID
}

// Len returns the number of expansions.
func (c *CBucket) Len() int { return len(c.Expanded) }

func (c *CBucket) collect(group []*ExpandingSubgraph, cs CandidateSet, pat PatternID) {
	for _, x := range group {
		accepted := x.AcceptCandidates(cs, pat)
		if len(accepted) == 0 {
			continue
		}
		pivots := make([]VertexID, len(accepted))
		for i, v := range accepted {
			pivots[i] = v.ID
		}
		c.Expanded = append(c.Expanded, x)
		c.Pivots = append(c.Pivots, pivots)
	}
}

// BuildCFromA pops the group of a for cur and intersects every expansion
// with cs. Expansions accepting no target are dropped.
func BuildCFromA(a *ABucket, cur PatternID, cs CandidateSet) *CBucket {
	c := &CBucket{}
	c.collect(a.Pop(cur), cs, cur)
	return c
}

// BuildCFromT intersects every expansion of t with cs.
func BuildCFromT(t *TBucket, cs CandidateSet) *CBucket {
	c := &CBucket{}
	c.collect(t.Expanding, cs, t.Target)
	return c
}

// TBucket is a temporary intersection: expansions of several A-buckets
// reconciled at one shared target pattern vertex.
type TBucket struct {
	Target    PatternID
	Expanding []*ExpandingSubgraph
}

// Len returns the number of expansions.
func (t *TBucket) Len() int { return len(t.Expanding) }

// BuildTFromAA pops the target groups of both A-buckets and merges them.
func BuildTFromAA(left, right *ABucket, target PatternID) *TBucket {
	return &TBucket{
		Target:    target,
		Expanding: expandEdgesOfTwo(left.Pop(target), right.Pop(target)),
	}
}

// BuildTFromTA merges a T-bucket with the matching group of an A-bucket.
func BuildTFromTA(left *TBucket, right *ABucket) *TBucket {
	return &TBucket{
		Target:    left.Target,
		Expanding: expandEdgesOfTwo(left.Expanding, right.Pop(left.Target)),
	}
}

// BuildTFromTT merges two T-buckets sharing a target.
func BuildTFromTT(left, right *TBucket) *TBucket {
	return &TBucket{
		Target:    left.Target,
		Expanding: expandEdgesOfTwo(left.Expanding, right.Expanding),
	}
}

// expandEdgesOfTwo merges every pair across the two groups, iterating the
// shorter group in the outer loop.
func expandEdgesOfTwo(left, right []*ExpandingSubgraph) []*ExpandingSubgraph {
	outer, inner := left, right
	if len(outer) > len(inner) {
		outer, inner = inner, outer
	}
	var out []*ExpandingSubgraph
	for _, o := range outer {
		for _, i := range inner {
			out = append(out, Merge(o, i)...)
		}
	}
	return out
}

// sortedPatternIDs returns the keys of m, sorted.
func sortedPatternIDs[V any](m map[PatternID]V) []PatternID {
	out := make([]PatternID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
