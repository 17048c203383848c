package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mstrYoda/graphmatch"
)

// ---------------------------------------------------------------------------
// Histogram collects latency samples for one plan and computes percentiles
// from a sorted copy.
// ---------------------------------------------------------------------------

type histogram struct {
	mu       sync.Mutex
	samples  []time.Duration
	errCount int
	matches  int
}

func (h *histogram) record(d time.Duration, matches int, isErr bool) {
	h.mu.Lock()
	h.samples = append(h.samples, d)
	h.matches += matches
	if isErr {
		h.errCount++
	}
	h.mu.Unlock()
}

type histStats struct {
	Count   int
	Errors  int
	Matches int
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
	Max     time.Duration
	Min     time.Duration
	Avg     time.Duration
}

func (h *histogram) stats() histStats {
	h.mu.Lock()
	cp := make([]time.Duration, len(h.samples))
	copy(cp, h.samples)
	st := histStats{Errors: h.errCount, Matches: h.matches}
	h.mu.Unlock()

	n := len(cp)
	if n == 0 {
		return st
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	var sum time.Duration
	for _, d := range cp {
		sum += d
	}
	st.Count = n
	st.P50 = cp[percentileIdx(n, 50)]
	st.P95 = cp[percentileIdx(n, 95)]
	st.P99 = cp[percentileIdx(n, 99)]
	st.Max = cp[n-1]
	st.Min = cp[0]
	st.Avg = sum / time.Duration(n)
	return st
}

func percentileIdx(n int, pct int) int {
	idx := int(math.Ceil(float64(pct)/100.0*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// ---------------------------------------------------------------------------
// Command
// ---------------------------------------------------------------------------

type benchFlags struct {
	workers    int
	iterations int
	duration   time.Duration
}

func newBenchCmd(c *cli) *cobra.Command {
	var f benchFlags
	cmd := &cobra.Command{
		Use:   "bench <plan.json>...",
		Short: "Execute plans repeatedly from concurrent workers and report latency",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, c, &f, args)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.workers, "workers", 4, "concurrent workers")
	fl.IntVar(&f.iterations, "iterations", 100, "executions per plan, split across workers")
	fl.DurationVar(&f.duration, "duration", 0, "run for this long instead of a fixed iteration count")
	return cmd
}

type benchPlan struct {
	name string
	eng  *graphmatch.Engine
	hist *histogram
}

func runBench(cmd *cobra.Command, c *cli, f *benchFlags, planPaths []string) error {
	if f.workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	opts, err := c.cfg.options(c.logger)
	if err != nil {
		return err
	}
	b, err := openBackend(cmd.Context(), c.cfg, c.logger, true)
	if err != nil {
		return err
	}
	defer b.close()
	exec := graphmatch.NewExecutor(b.adapter, opts)
	defer exec.Close()

	plans := make([]*benchPlan, len(planPaths))
	for i, path := range planPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		eng, err := exec.Load(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		plans[i] = &benchPlan{name: filepath.Base(path), eng: eng, hist: &histogram{}}
	}

	ctx := cmd.Context()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < f.workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; f.duration > 0 || i < f.iterations*len(plans); i += f.workers {
				if ctx.Err() != nil {
					return
				}
				p := plans[i%len(plans)]
				t0 := time.Now()
				ms, err := p.eng.Execute(ctx)
				if err != nil && ctx.Err() != nil {
					return
				}
				p.hist.record(time.Since(t0), len(ms), err != nil)
			}
		}(w)
	}
	wg.Wait()

	printBenchReport(cmd.OutOrStdout(), plans, time.Since(start))
	return nil
}

func printBenchReport(w io.Writer, plans []*benchPlan, elapsed time.Duration) {
	secs := elapsed.Seconds()
	if secs < 0.001 {
		secs = 0.001
	}
	fmt.Fprintf(w, "%-24s %8s %6s %10s %10s %10s %10s %10s %9s\n",
		"PLAN", "COUNT", "ERRS", "MATCHES", "P50", "P95", "P99", "MAX", "QPS")
	total := 0
	for _, p := range plans {
		st := p.hist.stats()
		total += st.Count
		fmt.Fprintf(w, "%-24s %8d %6d %10d %10s %10s %10s %10s %9.1f\n",
			p.name, st.Count, st.Errors, st.Matches,
			fmtDur(st.P50), fmtDur(st.P95), fmtDur(st.P99), fmtDur(st.Max),
			float64(st.Count)/secs)
	}
	fmt.Fprintf(w, "%d executions in %s (%.1f/s)\n", total, elapsed.Round(time.Millisecond), float64(total)/secs)
}

func fmtDur(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
