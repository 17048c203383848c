package graphmatch

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Metrics holds operational counters for an Executor. All fields are
// atomic. Prometheus text output is generated by hand.
type Metrics struct {
	// Execution counters
	QueriesTotal    atomic.Uint64 // Execute and ExecuteWithoutFinalJoin calls
	SlowQueries     atomic.Uint64 // executions exceeding SlowQueryThreshold
	QueryErrorTotal atomic.Uint64 // executions that returned an error

	QueryDurationSum atomic.Int64 // cumulative microseconds
	QueryDurationMax atomic.Int64 // max observed microseconds

	InstructionsTotal     atomic.Uint64
	ExpandingMaterialized atomic.Uint64 // expanding subgraphs created by GetAdj and Intersect
	DeadBranches          atomic.Uint64
	MatchesTotal          atomic.Uint64

	// Storage counters
	StorageCalls atomic.Uint64
	CacheHits    atomic.Uint64
	CacheMisses  atomic.Uint64
}

func (m *Metrics) recordQueryDuration(d time.Duration) {
	us := d.Microseconds()
	m.QueryDurationSum.Add(us)
	for {
		cur := m.QueryDurationMax.Load()
		if us <= cur {
			break
		}
		if m.QueryDurationMax.CompareAndSwap(cur, us) {
			break
		}
	}
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"queries_total":                m.QueriesTotal.Load(),
		"slow_queries_total":           m.SlowQueries.Load(),
		"query_errors_total":           m.QueryErrorTotal.Load(),
		"query_duration_sum_us":        m.QueryDurationSum.Load(),
		"query_duration_max_us":        m.QueryDurationMax.Load(),
		"instructions_total":           m.InstructionsTotal.Load(),
		"expanding_materialized_total": m.ExpandingMaterialized.Load(),
		"dead_branches_total":          m.DeadBranches.Load(),
		"matches_total":                m.MatchesTotal.Load(),
		"storage_calls_total":          m.StorageCalls.Load(),
		"cache_hits_total":             m.CacheHits.Load(),
		"cache_misses_total":           m.CacheMisses.Load(),
	}
}

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	pCounter(w, "graphmatch_queries_total", "Total number of plan executions", m.QueriesTotal.Load())
	pCounter(w, "graphmatch_slow_queries_total", "Total number of slow plan executions", m.SlowQueries.Load())
	pCounter(w, "graphmatch_query_errors_total", "Total number of failed plan executions", m.QueryErrorTotal.Load())
	pCounter(w, "graphmatch_query_duration_microseconds_sum", "Cumulative execution duration in microseconds", uint64(m.QueryDurationSum.Load()))
	pCounter(w, "graphmatch_instructions_total", "Total instructions executed", m.InstructionsTotal.Load())
	pCounter(w, "graphmatch_expanding_materialized_total", "Expanding subgraphs created", m.ExpandingMaterialized.Load())
	pCounter(w, "graphmatch_dead_branches_total", "GetAdj steps that found a pattern edge without data edges", m.DeadBranches.Load())
	pCounter(w, "graphmatch_matches_total", "Matches returned by Execute", m.MatchesTotal.Load())
	pCounter(w, "graphmatch_storage_calls_total", "Storage adapter calls issued by the engine", m.StorageCalls.Load())
	pCounter(w, "graphmatch_cache_hits_total", "Storage cache hits", m.CacheHits.Load())
	pCounter(w, "graphmatch_cache_misses_total", "Storage cache misses", m.CacheMisses.Load())
	pGauge(w, "graphmatch_query_duration_microseconds_max", "Maximum observed execution duration in microseconds", float64(m.QueryDurationMax.Load()))
}

func pCounter(w io.Writer, name, help string, val uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, val)
}

func pGauge(w io.Writer, name, help string, val float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, val)
}
