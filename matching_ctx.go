package graphmatch

import (
	"fmt"
)

// pool is one of the four bucket pools, keyed by the resolved variable
// name and iterated in first-insertion order.
type pool[B any] struct {
	name    string
	buckets map[PatternID]B
	order   []PatternID
}

func newPool[B any](name string) *pool[B] {
	return &pool[B]{name: name, buckets: make(map[PatternID]B)}
}

func (p *pool[B]) update(key PatternID, b B) {
	if _, ok := p.buckets[key]; !ok {
		p.order = append(p.order, key)
	}
	p.buckets[key] = b
}

func (p *pool[B]) resolve(op Operand) (B, error) {
	b, ok := p.buckets[op.Key]
	if !ok {
		var zero B
		return zero, fmt.Errorf("%w: %s pool has no %s (%w)", ErrMalformedPlan, p.name, op, ErrUnknownVariable)
	}
	return b, nil
}

func (p *pool[B]) has(key PatternID) bool {
	_, ok := p.buckets[key]
	return ok
}

func (p *pool[B]) keys() []PatternID {
	return append([]PatternID(nil), p.order...)
}

func (p *pool[B]) clear() {
	p.buckets = make(map[PatternID]B)
	p.order = nil
}

// MatchingContext owns the pattern graph, the F, A, C and T bucket pools
// and the incremental loading state of one execution.
type MatchingContext struct {
	plan *Plan

	fPool *pool[*FBucket]
	aPool *pool[*ABucket]
	cPool *pool[*CBucket]
	tPool *pool[*TBucket]

	expanded   map[VertexID]struct{}
	dead       bool
	deadReason string
}

// NewMatchingContext returns a context with empty pools.
func NewMatchingContext(plan *Plan) *MatchingContext {
	return &MatchingContext{
		plan:     plan,
		fPool:    newPool[*FBucket]("f"),
		aPool:    newPool[*ABucket]("A"),
		cPool:    newPool[*CBucket]("C"),
		tPool:    newPool[*TBucket]("T"),
		expanded: make(map[VertexID]struct{}),
	}
}

// Plan returns the plan the context was built for.
func (m *MatchingContext) Plan() *Plan { return m.plan }

// InitFPool (re-)initialises the F-bucket at op and returns it.
func (m *MatchingContext) InitFPool(op Operand) *FBucket {
	b := &FBucket{}
	m.fPool.update(op.Key, b)
	return b
}

func (m *MatchingContext) UpdateFPool(op Operand, b *FBucket) { m.fPool.update(op.Key, b) }

func (m *MatchingContext) ResolveFPool(op Operand) (*FBucket, error) { return m.fPool.resolve(op) }

// FBuckets returns every F-bucket in insertion order.
func (m *MatchingContext) FBuckets() []*FBucket {
	out := make([]*FBucket, 0, len(m.fPool.order))
	for _, k := range m.fPool.order {
		out = append(out, m.fPool.buckets[k])
	}
	return out
}

// FKeys returns the F-pool keys in insertion order.
func (m *MatchingContext) FKeys() []PatternID { return m.fPool.keys() }

// ClearFPool drops every F-bucket.
func (m *MatchingContext) ClearFPool() { m.fPool.clear() }

// InitAPool (re-)initialises the A-bucket at op, expanding from cur.
func (m *MatchingContext) InitAPool(op Operand, cur PatternID) *ABucket {
	b := NewABucket(cur)
	m.aPool.update(op.Key, b)
	return b
}

func (m *MatchingContext) UpdateAPool(op Operand, b *ABucket) { m.aPool.update(op.Key, b) }

func (m *MatchingContext) ResolveAPool(op Operand) (*ABucket, error) { return m.aPool.resolve(op) }

// FindAGroup returns the first A-bucket, in insertion order, that still
// holds a group for next.
func (m *MatchingContext) FindAGroup(next PatternID) (*ABucket, bool) {
	for _, k := range m.aPool.order {
		if b := m.aPool.buckets[k]; b.Has(next) {
			return b, true
		}
	}
	return nil, false
}

// InitCPool (re-)initialises the C-bucket at op.
func (m *MatchingContext) InitCPool(op Operand) *CBucket {
	b := &CBucket{}
	m.cPool.update(op.Key, b)
	return b
}

func (m *MatchingContext) UpdateCPool(op Operand, b *CBucket) { m.cPool.update(op.Key, b) }

func (m *MatchingContext) ResolveCPool(op Operand) (*CBucket, error) { return m.cPool.resolve(op) }

// InitTPool (re-)initialises the T-bucket at op.
func (m *MatchingContext) InitTPool(op Operand) *TBucket {
	b := &TBucket{Target: op.Key}
	m.tPool.update(op.Key, b)
	return b
}

func (m *MatchingContext) UpdateTPool(op Operand, b *TBucket) { m.tPool.update(op.Key, b) }

func (m *MatchingContext) ResolveTPool(op Operand) (*TBucket, error) { return m.tPool.resolve(op) }

// PatternVertex looks up a pattern vertex.
func (m *MatchingContext) PatternVertex(id PatternID) (*PatternVertex, error) {
	v, ok := m.plan.Vertices[id]
	if !ok {
		return nil, fmt.Errorf("%w: vertex %q (%w)", ErrMalformedPlan, id, ErrUnknownPattern)
	}
	return v, nil
}

// PatternVertices looks up several pattern vertices.
func (m *MatchingContext) PatternVertices(ids []PatternID) ([]*PatternVertex, error) {
	out := make([]*PatternVertex, 0, len(ids))
	for _, id := range ids {
		v, err := m.PatternVertex(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// PatternEdge looks up a pattern edge.
func (m *MatchingContext) PatternEdge(id PatternID) (*PatternEdge, error) {
	e, ok := m.plan.Edges[id]
	if !ok {
		return nil, fmt.Errorf("%w: edge %q (%w)", ErrMalformedPlan, id, ErrUnknownPattern)
	}
	return e, nil
}

// PatternEdges looks up several pattern edges.
func (m *MatchingContext) PatternEdges(ids []PatternID) ([]*PatternEdge, error) {
	out := make([]*PatternEdge, 0, len(ids))
	for _, id := range ids {
		e, err := m.PatternEdge(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateExpandedDataVertices records vertices already used as pivots.
func (m *MatchingContext) UpdateExpandedDataVertices(ids []VertexID) {
	for _, id := range ids {
		m.expanded[id] = struct{}{}
	}
}

// IsExpanded reports whether id has been used as an expansion pivot.
func (m *MatchingContext) IsExpanded(id VertexID) bool {
	_, ok := m.expanded[id]
	return ok
}

// ExpandedCount returns the number of recorded pivots.
func (m *MatchingContext) ExpandedCount() int { return len(m.expanded) }

// MarkDead sets the sticky dead-branch flag.
func (m *MatchingContext) MarkDead(reason string) {
	if !m.dead {
		m.dead = true
		m.deadReason = reason
	}
}

// Dead reports whether a GetAdj step found a pattern edge without any
// connecting data edge.
func (m *MatchingContext) Dead() bool { return m.dead }

// DeadReason describes the first dead branch.
func (m *MatchingContext) DeadReason() string { return m.deadReason }
