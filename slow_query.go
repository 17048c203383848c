package graphmatch

import (
	"sync"
	"time"
)

// SlowQueryEntry records one slow plan execution.
type SlowQueryEntry struct {
	Plan         string        `json:"plan"`
	Duration     time.Duration `json:"-"`
	DurationMs   float64       `json:"duration_ms"`
	Matches      int           `json:"matches"`
	Materialized int           `json:"materialized"`
	Steps        []SlowStep    `json:"steps,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SlowStep is the cost of one instruction of a slow execution.
type SlowStep struct {
	Index        int     `json:"index"`
	Step         string  `json:"step"`
	Materialized int     `json:"materialized"`
	Produced     int     `json:"produced"`
	DurationMs   float64 `json:"duration_ms"`
}

func slowSteps(stats []InstructionStats) ([]SlowStep, int, int) {
	steps := make([]SlowStep, len(stats))
	total, heaviest := 0, -1
	for i, st := range stats {
		name := string(st.Type)
		if st.Vertex != "" {
			name += " " + string(st.Vertex)
		}
		steps[i] = SlowStep{
			Index:        st.Index,
			Step:         name,
			Materialized: st.Materialized,
			Produced:     st.Produced,
			DurationMs:   float64(st.Duration.Microseconds()) / 1000.0,
		}
		total += st.Materialized
		if heaviest < 0 || st.Materialized > stats[heaviest].Materialized {
			heaviest = i
		}
	}
	return steps, total, heaviest
}

// slowQueryLog is a bounded ring buffer of recent slow executions.
type slowQueryLog struct {
	mu      sync.Mutex
	entries []SlowQueryEntry
	pos     int
	cap     int
}

func newSlowQueryLog(capacity int) *slowQueryLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &slowQueryLog{entries: make([]SlowQueryEntry, 0, capacity), cap: capacity}
}

func (l *slowQueryLog) add(e SlowQueryEntry) {
	l.mu.Lock()
	if len(l.entries) < l.cap {
		l.entries = append(l.entries, e)
	} else {
		l.entries[l.pos] = e
	}
	l.pos = (l.pos + 1) % l.cap
	l.mu.Unlock()
}

// Recent returns up to the last n entries, newest first.
func (l *slowQueryLog) Recent(n int) []SlowQueryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := len(l.entries)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]SlowQueryEntry, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[(l.pos-1-i+size)%size]
	}
	return out
}

// slowQueryCheck records and logs an execution that exceeded the
// configured threshold, with the expansions each instruction materialized.
func (x *Executor) slowQueryCheck(summary string, d time.Duration, matches int, stats []InstructionStats) {
	threshold := x.opts.SlowQueryThreshold
	if threshold <= 0 || d < threshold {
		return
	}
	x.metrics.SlowQueries.Add(1)
	ms := float64(d.Microseconds()) / 1000.0
	steps, total, heaviest := slowSteps(stats)
	x.slowLog.add(SlowQueryEntry{
		Plan:         truncate(summary, 500),
		Duration:     d,
		DurationMs:   ms,
		Matches:      matches,
		Materialized: total,
		Steps:        steps,
		Timestamp:    time.Now(),
	})
	attrs := []any{
		"plan", truncate(summary, 200),
		"duration", d.String(),
		"duration_ms", ms,
		"matches", matches,
		"materialized", total,
		"threshold", threshold.String(),
	}
	if heaviest >= 0 {
		attrs = append(attrs, "heaviest_step", steps[heaviest].Step, "heaviest_materialized", steps[heaviest].Materialized)
	}
	x.log.Warn("slow plan execution", attrs...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
