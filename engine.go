package graphmatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Executor owns the resources shared by every plan it loads: the storage
// adapter, the worker pool, metrics and the slow query log. It is safe for
// concurrent use as long as the adapter is.
type Executor struct {
	store   StorageAdapter
	opts    Options
	log     *slog.Logger
	gov     *queryGovernor
	metrics *Metrics
	slowLog *slowQueryLog

	poolMu sync.Mutex
	pool   *workerPool
	closed atomic.Bool

	// executions in flight; adapter caches are cleared when it drops to zero
	active atomic.Int64
}

// NewExecutor returns an Executor reading from store.
func NewExecutor(store StorageAdapter, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Executor{
		store:   store,
		opts:    opts,
		log:     opts.Logger,
		gov:     newQueryGovernor(opts),
		metrics: &Metrics{},
		slowLog: newSlowQueryLog(100),
	}
}

// Load parses and validates a JSON plan.
func (x *Executor) Load(planJSON []byte) (*Engine, error) {
	if x.closed.Load() {
		return nil, ErrExecutorClosed
	}
	p, err := ParsePlan(planJSON)
	if err != nil {
		return nil, err
	}
	return x.LoadPlan(p), nil
}

// LoadPlan binds an already validated plan to the executor.
func (x *Executor) LoadPlan(p *Plan) *Engine {
	return &Engine{exec: x, plan: p}
}

// Options returns the executor's effective options.
func (x *Executor) Options() Options { return x.opts }

// Metrics returns the live counters.
func (x *Executor) Metrics() *Metrics { return x.metrics }

// SlowQueries returns up to n of the most recent slow executions.
func (x *Executor) SlowQueries(n int) []SlowQueryEntry { return x.slowLog.Recent(n) }

// Close stops the worker pool. Engines loaded from x fail afterwards.
func (x *Executor) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	x.poolMu.Lock()
	p := x.pool
	x.poolMu.Unlock()
	if p != nil {
		p.stop()
	}
	return nil
}

func (x *Executor) workers() *workerPool {
	if x.opts.Parallelism <= 1 {
		return nil
	}
	x.poolMu.Lock()
	defer x.poolMu.Unlock()
	if x.pool == nil && !x.closed.Load() {
		x.pool = newWorkerPool(x.opts.Parallelism)
	}
	return x.pool
}

// release ends one execution. The adapter's caches are cleared once no
// other execution of x is still reading through them.
func (x *Executor) release() {
	if x.active.Add(-1) > 0 {
		return
	}
	if cc, ok := x.store.(CacheClearer); ok {
		cc.ClearCaches()
	}
}

// Engine runs one plan. Every execution starts from a fresh
// MatchingContext, so an Engine can be executed repeatedly.
type Engine struct {
	exec *Executor
	plan *Plan
	owns bool
}

// FromPlan parses planJSON and returns an Engine with its own Executor.
// Options default to DefaultOptions; only the first value is used.
func FromPlan(planJSON []byte, store StorageAdapter, opts ...Options) (*Engine, error) {
	o := DefaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	x := NewExecutor(store, o)
	e, err := x.Load(planJSON)
	if err != nil {
		return nil, err
	}
	e.owns = true
	return e, nil
}

// Plan returns the loaded plan.
func (e *Engine) Plan() *Plan { return e.plan }

// Executor returns the executor the engine runs on.
func (e *Engine) Executor() *Executor { return e.exec }

// Close releases the executor if the engine was built by FromPlan.
func (e *Engine) Close() error {
	if e.owns {
		return e.exec.Close()
	}
	return nil
}

// ExecuteWithoutFinalJoin runs the plan and returns one group of partial
// matches per F-bucket alive at Report, empty groups included.
func (e *Engine) ExecuteWithoutFinalJoin(ctx context.Context) ([][]*DynSubgraph, error) {
	start := time.Now()
	groups, stats, err := e.run(ctx)
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	e.finish(start, n, stats, err)
	return groups, err
}

// Execute runs the plan and joins the Report groups into complete matches:
// one DynSubgraph per embedding of the pattern, sorted by Key.
func (e *Engine) Execute(ctx context.Context) ([]*DynSubgraph, error) {
	start := time.Now()
	var stats []InstructionStats
	matches, err := safeExecuteResult(func() ([]*DynSubgraph, error) {
		groups, st, err := e.run(ctx)
		stats = st
		if err != nil {
			return nil, err
		}
		return e.join(ctx, groups)
	})
	e.finish(start, len(matches), stats, err)
	if err == nil {
		e.exec.metrics.MatchesTotal.Add(uint64(len(matches)))
	}
	return matches, err
}

func (e *Engine) finish(start time.Time, n int, stats []InstructionStats, err error) {
	x := e.exec
	d := time.Since(start)
	x.metrics.QueriesTotal.Add(1)
	x.metrics.recordQueryDuration(d)
	if err != nil {
		x.metrics.QueryErrorTotal.Add(1)
		x.log.Error("plan execution failed", "plan", e.plan.Summary(), "error", err, "duration", d.String())
		return
	}
	x.slowQueryCheck(e.plan.Summary(), d, n, stats)
}

func (e *Engine) run(ctx context.Context) ([][]*DynSubgraph, []InstructionStats, error) {
	x := e.exec
	if x.closed.Load() {
		return nil, nil, ErrExecutorClosed
	}
	ctx, cancel := x.gov.wrapContext(ctx)
	defer cancel()
	x.active.Add(1)
	defer x.release()

	ex := &execution{
		ctx:     ctx,
		mc:      NewMatchingContext(e.plan),
		store:   x.store,
		opts:    &x.opts,
		log:     x.log,
		metrics: x.metrics,
		gov:     x.gov,
		pool:    x.workers(),
		vcache:  make(map[VertexID]*DataVertex),
	}

	stats := make([]InstructionStats, 0, len(e.plan.Instructions))
	groups, err := safeExecuteResult(func() ([][]*DynSubgraph, error) {
		for i, instr := range e.plan.Instructions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t0 := time.Now()
			produced, err := ex.runInstruction(instr)
			if err != nil {
				return nil, fmt.Errorf("instruction %d (%s %s): %w", i, instr.Type, instr.Vertex, err)
			}
			x.metrics.InstructionsTotal.Add(1)
			x.metrics.ExpandingMaterialized.Add(uint64(ex.materialized))
			st := InstructionStats{
				Index:        i,
				Type:         instr.Type,
				Vertex:       instr.Vertex,
				TargetVar:    instr.Target.String(),
				Materialized: ex.materialized,
				Produced:     produced,
				Duration:     time.Since(t0),
			}
			stats = append(stats, st)
			if x.opts.OnInstruction != nil {
				x.opts.OnInstruction(st)
			}
		}
		if ex.results == nil {
			ex.results = [][]*DynSubgraph{}
		}
		return ex.results, nil
	})
	return groups, stats, err
}

// join takes the Cartesian product of the non-empty groups depth first,
// pruning tuples whose union already disagrees on a tag or binds a pattern
// element twice.
func (e *Engine) join(ctx context.Context, groups [][]*DynSubgraph) ([]*DynSubgraph, error) {
	var live [][]*DynSubgraph
	for _, g := range groups {
		if len(g) > 0 {
			live = append(live, g)
		}
	}
	out := []*DynSubgraph{}
	if len(live) == 0 {
		return out, nil
	}

	seen := make(map[string]*DynSubgraph)
	steps := 0
	var walk func(depth int, acc *DynSubgraph) error
	walk = func(depth int, acc *DynSubgraph) error {
		if depth == len(live) {
			if !e.exactMatch(acc) {
				return nil
			}
			k := acc.Key()
			if _, dup := seen[k]; !dup {
				seen[k] = acc
				if err := e.exec.gov.checkMatchCount(len(seen)); err != nil {
					return err
				}
			}
			return nil
		}
		for _, g := range live[depth] {
			if steps++; steps%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			next := g
			if acc != nil {
				if acc.ConflictsWith(g) {
					continue
				}
				next = acc.Union(g)
				if !withinPattern(next, e.plan) {
					continue
				}
			}
			if err := walk(depth+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, nil); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out, nil
}

// exactMatch reports whether g binds every pattern vertex and edge exactly
// once and every edge joins the data vertices bound to its pattern
// endpoints.
func (e *Engine) exactMatch(g *DynSubgraph) bool {
	p := e.plan
	vc, ec := g.PatternVertexCounts(), g.PatternEdgeCounts()
	if len(vc) != len(p.Vertices) || len(ec) != len(p.Edges) {
		return false
	}
	for id := range p.Vertices {
		if vc[id] != 1 {
			return false
		}
	}
	for id := range p.Edges {
		if ec[id] != 1 {
			return false
		}
	}
	for _, de := range g.Edges() {
		pid, _ := g.PatternOfEdge(de.ID)
		pe := p.Edges[pid]
		src, _ := g.PatternOfVertex(de.Src)
		dst, _ := g.PatternOfVertex(de.Dst)
		forward := src == pe.Src && dst == pe.Dst
		if !forward && (e.exec.opts.Directed || src != pe.Dst || dst != pe.Src) {
			return false
		}
	}
	return true
}

// Summary is a one-line description of the plan used in logs.
func (p *Plan) Summary() string {
	order := make([]string, len(p.MatchingOrder))
	for i, id := range p.MatchingOrder {
		order[i] = string(id)
	}
	return fmt.Sprintf("order=[%s] vertices=%d edges=%d instructions=%d",
		strings.Join(order, ","), len(p.Vertices), len(p.Edges), len(p.Instructions))
}
