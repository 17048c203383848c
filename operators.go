package graphmatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// execution is the state of one run of a plan. A fresh execution, and a
// fresh MatchingContext, is created for every Execute call.
type execution struct {
	ctx     context.Context
	mc      *MatchingContext
	store   StorageAdapter
	opts    *Options
	log     *slog.Logger
	metrics *Metrics
	gov     *queryGovernor
	pool    *workerPool

	results [][]*DynSubgraph

	// per-instruction counters, reset by runInstruction
	materialized int

	vmu    sync.Mutex
	vcache map[VertexID]*DataVertex
}

// runInstruction dispatches one instruction and returns the size of the
// bucket it wrote.
func (x *execution) runInstruction(instr Instruction) (int, error) {
	x.materialized = 0
	switch instr.Type {
	case InstrInit:
		return x.opInit(instr)
	case InstrGetAdj:
		return x.opGetAdj(instr)
	case InstrIntersect:
		return x.opIntersect(instr)
	case InstrForeach:
		return x.opForeach(instr)
	case InstrTCache:
		x.log.Debug("t_cache is deprecated, skipping", "target", instr.Target.String())
		return 0, nil
	case InstrReport:
		return x.opReport()
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownInstruction, instr.Type)
}

// ---------------------------------------------------------------------------
// Init
// ---------------------------------------------------------------------------

func (x *execution) opInit(instr Instruction) (int, error) {
	pv, err := x.mc.PatternVertex(instr.Vertex)
	if err != nil {
		return 0, err
	}
	vs, err := x.store.LoadVertices(x.ctx, pv.Label, pv.Attr)
	x.metrics.StorageCalls.Add(1)
	if err != nil {
		return 0, fmt.Errorf("graphmatch: init %s: %w", pv.ID, err)
	}
	// Adapter results may be shared cache entries; sort a copy.
	vs = slices.Clone(vs)
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })

	b := x.mc.InitFPool(instr.Target)
	skipped := 0
	for _, v := range vs {
		if !pv.Accepts(v) {
			continue
		}
		if x.opts.Incremental && x.mc.IsExpanded(v.ID) {
			skipped++
			continue
		}
		g := NewDynSubgraph()
		g.UpdateV(v, pv.ID)
		b.Append(g, v.ID)
	}
	x.log.Debug("init", "vertex", pv.ID, "label", pv.Label, "loaded", len(vs), "skipped", skipped)
	return b.Len(), nil
}

// ---------------------------------------------------------------------------
// GetAdj
// ---------------------------------------------------------------------------

// adjRequest is one storage lookup: the edges matching pe incident to pivot.
type adjRequest struct {
	pivot VertexID
	pe    *PatternEdge
}

func (r adjRequest) key() string { return string(r.pivot) + "\x00" + string(r.pe.ID) }

// expansionKey groups dangling edges by the pattern vertex they lead to
// and the data vertex they would bind it to.
type expansionKey struct {
	next PatternID
	far  VertexID
}

func (x *execution) opGetAdj(instr Instruction) (int, error) {
	cur := instr.Vertex
	src, err := x.mc.ResolveFPool(instr.Single)
	if err != nil {
		return 0, err
	}
	pes, err := x.mc.PatternEdges(instr.ExpandEdges)
	if err != nil {
		return 0, err
	}
	a := x.mc.InitAPool(instr.Target, cur)
	matched, pivots := src.drain()

	if len(matched) == 0 {
		if len(pes) > 0 {
			x.deadBranch(instr, pes[0].ID, "no partial match to expand")
		}
		return 0, nil
	}

	// Collect the distinct (pivot, pattern edge) lookups first so they can be
	// issued in parallel; bucket mutation below stays sequential.
	var reqs []adjRequest
	seen := make(map[string]bool)
	for i, g := range matched {
		for _, pivot := range pivotsOf(g, pivots, i, cur) {
			for _, pe := range pes {
				if !x.needsExpansion(g, pe, cur) {
					continue
				}
				r := adjRequest{pivot: pivot, pe: pe}
				if !seen[r.key()] {
					seen[r.key()] = true
					reqs = append(reqs, r)
				}
			}
		}
	}
	loaded, err := x.loadIncident(instr, cur, reqs)
	if err != nil {
		return 0, err
	}

	needed := make(map[PatternID]bool)
	found := make(map[PatternID]bool)
	var connected []VertexID

	for i, g := range matched {
		groups := make(map[expansionKey]map[PatternID][]DanglingEdge)
		for _, pivot := range pivotsOf(g, pivots, i, cur) {
			pivotConnected := false
			for _, pe := range pes {
				if !x.needsExpansion(g, pe, cur) {
					continue
				}
				needed[pe.ID] = true
				next := pe.Far(cur)
				for _, e := range loaded[adjRequest{pivot: pivot, pe: pe}.key()] {
					far := e.Other(pivot)
					if g.HasEdge(e.ID) || g.HasVertex(far) {
						continue
					}
					k := expansionKey{next: next, far: far}
					if groups[k] == nil {
						groups[k] = make(map[PatternID][]DanglingEdge)
					}
					groups[k][pe.ID] = append(groups[k][pe.ID], DanglingEdge{Edge: e, Pattern: pe.ID, Pending: next})
					pivotConnected = true
					found[pe.ID] = true
				}
			}
			if pivotConnected {
				connected = append(connected, pivot)
			}
		}

		for _, k := range sortedExpansionKeys(groups) {
			for _, combo := range danglingCombinations(groups[k]) {
				xs := NewExpandingSubgraph(g)
				xs.UpdateValidDanglingEdges(combo)
				a.add(k.next, xs)
				x.materialized++
				if err := x.gov.checkIntermediate(x.materialized); err != nil {
					return 0, fmt.Errorf("graphmatch: get_adj %s: %w", cur, err)
				}
			}
		}
	}

	x.mc.UpdateExpandedDataVertices(connected)

	for _, pe := range pes {
		if needed[pe.ID] && !found[pe.ID] {
			x.deadBranch(instr, pe.ID, "no data edge connects any pivot")
			if x.opts.DeadBranch == AbortBranch {
				x.mc.InitAPool(instr.Target, cur)
				return 0, nil
			}
			// KeepPartial: the matches stay reportable from their F-bucket.
			src.Matched, src.Pivots = matched, pivots
			break
		}
	}
	x.log.Debug("get_adj", "vertex", cur, "matches", len(matched), "lookups", len(reqs),
		"expanding", x.materialized, "pivots_connected", len(connected))
	return a.Len(), nil
}

// needsExpansion reports whether pe still has to be matched from cur in g.
// Pattern edges already bound, or leading to an already bound pattern
// vertex, are reconciled by Intersect instead.
func (x *execution) needsExpansion(g *DynSubgraph, pe *PatternEdge, cur PatternID) bool {
	next := pe.Far(cur)
	if next == cur {
		return false
	}
	return !g.HasPatternEdge(pe.ID) && !g.HasPatternVertex(next)
}

func (x *execution) deadBranch(instr Instruction, pe PatternID, reason string) {
	x.metrics.DeadBranches.Add(1)
	if x.opts.DeadBranch == AbortBranch {
		x.mc.MarkDead(fmt.Sprintf("get_adj %s: pattern edge %s: %s", instr.Vertex, pe, reason))
		x.log.Debug("dead branch, aborting", "vertex", instr.Vertex, "edge", pe, "reason", reason)
		return
	}
	x.log.Debug("dead branch, keeping partial matches", "vertex", instr.Vertex, "edge", pe, "reason", reason)
}

// pivotsOf returns the recorded pivots of match i, falling back to the
// vertices bound to cur.
func pivotsOf(g *DynSubgraph, pivots [][]VertexID, i int, cur PatternID) []VertexID {
	if i < len(pivots) && len(pivots[i]) > 0 {
		return pivots[i]
	}
	return g.VerticesOfPattern(cur)
}

// loadIncident resolves every request to the data edges matching its
// pattern edge whose far endpoint satisfies the far pattern vertex.
func (x *execution) loadIncident(instr Instruction, cur PatternID, reqs []adjRequest) (map[string][]*DataEdge, error) {
	var idx *edgeIndex
	if !x.opts.Incremental {
		var err error
		if idx, err = x.scanEdges(reqs); err != nil {
			return nil, err
		}
	}

	out := make(map[string][]*DataEdge, len(reqs))
	if x.pool == nil || len(reqs) < 2 {
		for _, r := range reqs {
			es, err := x.incident(r, cur, idx)
			if err != nil {
				return nil, err
			}
			out[r.key()] = es
		}
		return out, nil
	}

	fns := make([]func() ([]*DataEdge, error), len(reqs))
	for i, r := range reqs {
		r := r
		fns[i] = func() ([]*DataEdge, error) { return x.incident(r, cur, idx) }
	}
	res, err := runOrdered(x.ctx, x.pool, fns)
	if err != nil {
		return nil, err
	}
	for i, r := range reqs {
		out[r.key()] = res[i]
	}
	return out, nil
}

func (x *execution) incident(r adjRequest, cur PatternID, idx *edgeIndex) ([]*DataEdge, error) {
	pe := r.pe
	farPV, err := x.mc.PatternVertex(pe.Far(cur))
	if err != nil {
		return nil, err
	}

	var candidates []*DataEdge
	asSrc := pe.Src == cur
	if asSrc || !x.opts.Directed {
		es, err := x.edgesBySrc(r.pivot, pe, idx)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, es...)
	}
	if !asSrc || !x.opts.Directed {
		es, err := x.edgesByDst(r.pivot, pe, idx)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, es...)
	}

	var out []*DataEdge
	seen := make(map[EdgeID]bool, len(candidates))
	for _, e := range candidates {
		if seen[e.ID] || !pe.Accepts(e) {
			continue
		}
		seen[e.ID] = true
		far, err := x.vertex(e.Other(r.pivot))
		if err != nil {
			return nil, err
		}
		if far != nil && farPV.Accepts(far) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (x *execution) edgesBySrc(pivot VertexID, pe *PatternEdge, idx *edgeIndex) ([]*DataEdge, error) {
	if idx != nil {
		return idx.bySrc[pe.ID][pivot], nil
	}
	x.metrics.StorageCalls.Add(1)
	es, err := x.store.LoadEdgesBySrc(x.ctx, pivot, pe.Label, pe.Attr)
	if err != nil {
		return nil, fmt.Errorf("graphmatch: load edges from %s: %w", pivot, err)
	}
	return es, nil
}

func (x *execution) edgesByDst(pivot VertexID, pe *PatternEdge, idx *edgeIndex) ([]*DataEdge, error) {
	if idx != nil {
		return idx.byDst[pe.ID][pivot], nil
	}
	x.metrics.StorageCalls.Add(1)
	es, err := x.store.LoadEdgesByDst(x.ctx, pivot, pe.Label, pe.Attr)
	if err != nil {
		return nil, fmt.Errorf("graphmatch: load edges into %s: %w", pivot, err)
	}
	return es, nil
}

// vertex fetches a data vertex through the per-execution cache. Unknown
// vertices yield nil without error: an edge pointing at a missing vertex
// cannot be part of a match.
func (x *execution) vertex(id VertexID) (*DataVertex, error) {
	x.vmu.Lock()
	v, ok := x.vcache[id]
	x.vmu.Unlock()
	if ok {
		return v, nil
	}
	x.metrics.StorageCalls.Add(1)
	v, err := x.store.GetVertex(x.ctx, id)
	if errors.Is(err, ErrVertexNotFound) {
		v, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graphmatch: get vertex %s: %w", id, err)
	}
	x.vmu.Lock()
	x.vcache[id] = v
	x.vmu.Unlock()
	return v, nil
}

// edgeIndex serves GetAdj lookups from one label scan per pattern edge.
type edgeIndex struct {
	bySrc map[PatternID]map[VertexID][]*DataEdge
	byDst map[PatternID]map[VertexID][]*DataEdge
}

func (x *execution) scanEdges(reqs []adjRequest) (*edgeIndex, error) {
	idx := &edgeIndex{
		bySrc: make(map[PatternID]map[VertexID][]*DataEdge),
		byDst: make(map[PatternID]map[VertexID][]*DataEdge),
	}
	for _, r := range reqs {
		pe := r.pe
		if _, ok := idx.bySrc[pe.ID]; ok {
			continue
		}
		x.metrics.StorageCalls.Add(1)
		es, err := x.store.LoadEdges(x.ctx, pe.Label, pe.Attr)
		if err != nil {
			return nil, fmt.Errorf("graphmatch: scan %s edges: %w", pe.Label, err)
		}
		bySrc := make(map[VertexID][]*DataEdge)
		byDst := make(map[VertexID][]*DataEdge)
		for _, e := range es {
			bySrc[e.Src] = append(bySrc[e.Src], e)
			byDst[e.Dst] = append(byDst[e.Dst], e)
		}
		idx.bySrc[pe.ID] = bySrc
		idx.byDst[pe.ID] = byDst
	}
	return idx, nil
}

func sortedExpansionKeys(m map[expansionKey]map[PatternID][]DanglingEdge) []expansionKey {
	out := make([]expansionKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].next != out[j].next {
			return out[i].next < out[j].next
		}
		return out[i].far < out[j].far
	})
	return out
}

// danglingCombinations picks one data edge per pattern edge. Parallel data
// edges matching the same pattern edge become alternative expansions.
func danglingCombinations(byPattern map[PatternID][]DanglingEdge) [][]DanglingEdge {
	pats := sortedPatternIDs(byPattern)
	combos := [][]DanglingEdge{nil}
	for _, p := range pats {
		alts := byPattern[p]
		next := make([][]DanglingEdge, 0, len(combos)*len(alts))
		for _, c := range combos {
			for _, d := range alts {
				nc := make([]DanglingEdge, len(c), len(c)+1)
				copy(nc, c)
				next = append(next, append(nc, d))
			}
		}
		combos = next
	}
	return combos
}

// ---------------------------------------------------------------------------
// Intersect
// ---------------------------------------------------------------------------

func (x *execution) opIntersect(instr Instruction) (int, error) {
	if len(instr.Multi) >= 2 {
		return x.intersectMulti(instr)
	}

	cur := instr.Vertex
	pv, err := x.mc.PatternVertex(cur)
	if err != nil {
		return 0, err
	}

	var c *CBucket
	switch op := instr.PrimaryOperand(); op.Kind {
	case OperandIntersectTarget:
		t, err := x.mc.ResolveTPool(op)
		if err != nil {
			return 0, err
		}
		if t.Target != cur {
			return 0, malformed("intersect %s reads %s, which targets %s", cur, op, t.Target)
		}
		cs, err := x.candidates(pv)
		if err != nil {
			return 0, err
		}
		c = BuildCFromT(t, cs)
		t.Expanding = nil
	case OperandDBQueryTarget, OperandDataVertexSet:
		a, err := x.adjacencySource(instr, op)
		if err != nil {
			return 0, err
		}
		if a == nil {
			c = &CBucket{}
			break
		}
		cs, err := x.candidates(pv)
		if err != nil {
			return 0, err
		}
		c = BuildCFromA(a, cur, cs)
	default:
		return 0, malformed("intersect %s: unsupported operand %s", cur, op)
	}

	x.mc.UpdateCPool(instr.Target, c)
	x.log.Debug("intersect", "vertex", cur, "target", instr.Target.String(), "candidates", c.Len())
	return c.Len(), nil
}

// adjacencySource finds the A-bucket an adjacency-set intersect pops from:
// the A operand itself, an A variable among multi_ops or depend_on, or the
// first A-bucket still holding a group for the instruction's vertex.
func (x *execution) adjacencySource(instr Instruction, op Operand) (*ABucket, error) {
	if op.Kind == OperandDBQueryTarget {
		return x.mc.ResolveAPool(op)
	}
	for _, m := range instr.Multi {
		if m.Kind == OperandDBQueryTarget {
			return x.mc.ResolveAPool(m)
		}
	}
	for _, dep := range instr.DependOn {
		if d, err := ParseOperand(dep); err == nil && d.Kind == OperandDBQueryTarget {
			return x.mc.ResolveAPool(d)
		}
	}
	a, _ := x.mc.FindAGroup(instr.Vertex)
	return a, nil
}

func (x *execution) candidates(pv *PatternVertex) (CandidateSet, error) {
	x.metrics.StorageCalls.Add(1)
	vs, err := x.store.LoadVertices(x.ctx, pv.Label, pv.Attr)
	if err != nil {
		return nil, fmt.Errorf("graphmatch: load candidates for %s: %w", pv.ID, err)
	}
	cs := make(CandidateSet, len(vs))
	for _, v := range vs {
		if pv.Accepts(v) {
			cs[v.ID] = v
		}
	}
	return cs, nil
}

func (x *execution) intersectMulti(instr Instruction) (int, error) {
	cur := instr.Vertex
	if _, err := x.mc.PatternVertex(cur); err != nil {
		return 0, err
	}

	var t *TBucket
	var pendingA *ABucket
	for _, op := range instr.Multi {
		switch op.Kind {
		case OperandDBQueryTarget:
			a, err := x.mc.ResolveAPool(op)
			if err != nil {
				return 0, err
			}
			switch {
			case t != nil:
				t = BuildTFromTA(t, a)
			case pendingA != nil:
				t = BuildTFromAA(pendingA, a, cur)
				pendingA = nil
			default:
				pendingA = a
			}
		case OperandIntersectTarget:
			ot, err := x.mc.ResolveTPool(op)
			if err != nil {
				return 0, err
			}
			switch {
			case t != nil:
				t = BuildTFromTT(t, ot)
			case pendingA != nil:
				t = BuildTFromTA(ot, pendingA)
				pendingA = nil
			default:
				t = &TBucket{Target: cur, Expanding: ot.Expanding}
			}
		default:
			return 0, malformed("intersect %s: multi operand %s", cur, op)
		}
		if t != nil {
			x.materialized += t.Len()
			if err := x.gov.checkIntermediate(x.materialized); err != nil {
				return 0, fmt.Errorf("graphmatch: intersect %s: %w", cur, err)
			}
		}
	}
	if t == nil {
		t = &TBucket{Target: cur}
	}
	t.Target = cur
	x.mc.UpdateTPool(instr.Target, t)
	x.log.Debug("intersect multi", "vertex", cur, "operands", len(instr.Multi), "expanding", t.Len())
	return t.Len(), nil
}

// ---------------------------------------------------------------------------
// Foreach
// ---------------------------------------------------------------------------

func (x *execution) opForeach(instr Instruction) (int, error) {
	c, err := x.mc.ResolveCPool(instr.Single)
	if err != nil {
		return 0, err
	}
	f, err := FBucketFromC(c)
	if err != nil {
		return 0, fmt.Errorf("graphmatch: foreach %s: %w", instr.Single, err)
	}
	c.Expanded, c.Pivots = nil, nil
	x.mc.UpdateFPool(instr.Target, f)
	x.log.Debug("foreach", "source", instr.Single.String(), "target", instr.Target.String(), "matches", f.Len())
	return f.Len(), nil
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

func (x *execution) opReport() (int, error) {
	buckets := x.mc.FBuckets()
	defer x.mc.ClearFPool()

	if x.mc.Dead() {
		for range buckets {
			x.results = append(x.results, []*DynSubgraph{})
		}
		x.log.Debug("report on dead branch", "groups", len(buckets), "reason", x.mc.DeadReason())
		return 0, nil
	}

	total := 0
	for _, b := range buckets {
		group := make([]*DynSubgraph, 0, b.Len())
		for _, g := range b.Matched {
			if withinPattern(g, x.mc.Plan()) {
				group = append(group, g)
			}
		}
		total += len(group)
		x.results = append(x.results, group)
	}
	return total, nil
}

// withinPattern reports whether every pattern element is bound at most
// once. Forest patterns produce partial components, so fewer bindings than
// the pattern has are fine here.
func withinPattern(g *DynSubgraph, p *Plan) bool {
	for pat, n := range g.PatternVertexCounts() {
		if _, ok := p.Vertices[pat]; ok && n > 1 {
			return false
		}
	}
	for pat, n := range g.PatternEdgeCounts() {
		if _, ok := p.Edges[pat]; ok && n > 1 {
			return false
		}
	}
	return true
}
