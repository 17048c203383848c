package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mstrYoda/graphmatch"
)

type runFlags struct {
	format      string
	profile     bool
	groups      bool
	metrics     bool
	undirected  bool
	keepPartial bool
	parallelism int
	maxMatches  int
	timeout     time.Duration
}

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <plan.json>",
		Short: "Execute a plan and print the matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, c, &f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.format, "format", "text", "output format: text, json")
	fl.BoolVar(&f.profile, "profile", false, "print the instruction tree with row counts and timings")
	fl.BoolVar(&f.groups, "groups", false, "print the per-bucket groups instead of joined matches")
	fl.BoolVar(&f.metrics, "metrics", false, "print engine metrics in Prometheus format afterwards")
	fl.BoolVar(&f.undirected, "undirected", false, "ignore pattern edge direction")
	fl.BoolVar(&f.keepPartial, "keep-partial", false, "keep partial matches when a pattern edge finds no data edge")
	fl.IntVar(&f.parallelism, "parallelism", 0, "concurrent storage reads per get_adj")
	fl.IntVar(&f.maxMatches, "max-matches", 0, "fail when more matches are found")
	fl.DurationVar(&f.timeout, "timeout", 0, "query timeout")
	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *Config) {
	fl := cmd.Flags()
	if fl.Changed("undirected") {
		cfg.Engine.Directed = !f.undirected
	}
	if fl.Changed("keep-partial") && f.keepPartial {
		cfg.Engine.DeadBranch = graphmatch.KeepPartial.String()
	}
	if fl.Changed("parallelism") {
		cfg.Engine.Parallelism = f.parallelism
	}
	if fl.Changed("max-matches") {
		cfg.Engine.MaxMatches = f.maxMatches
	}
	if fl.Changed("timeout") {
		cfg.Engine.Timeout = f.timeout
	}
}

func runPlan(cmd *cobra.Command, c *cli, f *runFlags, planPath string) error {
	planJSON, err := os.ReadFile(planPath)
	if err != nil {
		return err
	}
	f.apply(cmd, c.cfg)
	opts, err := c.cfg.options(c.logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, c.cfg, c.logger, true)
	if err != nil {
		return err
	}
	defer b.close()

	exec := graphmatch.NewExecutor(b.adapter, opts)
	defer exec.Close()
	eng, err := exec.Load(planJSON)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case f.profile:
		qp, err := eng.Profile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(out, qp.String())
		err = printMatches(out, f.format, qp.Matches)
		if err != nil {
			return err
		}
	case f.groups:
		groups, err := eng.ExecuteWithoutFinalJoin(ctx)
		if err != nil {
			return err
		}
		for i, g := range groups {
			fmt.Fprintf(out, "group %d: %d partial matches\n", i, len(g))
			if err := printMatches(out, f.format, g); err != nil {
				return err
			}
		}
	default:
		matches, err := eng.Execute(ctx)
		if err != nil {
			return err
		}
		if err := printMatches(out, f.format, matches); err != nil {
			return err
		}
	}

	if f.metrics {
		exec.Metrics().WritePrometheus(out)
	}
	return nil
}

func printMatches(w io.Writer, format string, matches []*graphmatch.DynSubgraph) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		for _, m := range matches {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	case "text", "":
		for i, m := range matches {
			fmt.Fprintf(w, "match %d: %s\n", i+1, formatMatch(m))
		}
		fmt.Fprintf(w, "%d matches\n", len(matches))
		return nil
	}
	return fmt.Errorf("unknown format %q (want text or json)", format)
}

// formatMatch renders "u1=2 u2=3 | e1=a" ordered by data id.
func formatMatch(m *graphmatch.DynSubgraph) string {
	var vs, es []string
	for _, id := range m.VertexIDs() {
		p, _ := m.PatternOfVertex(id)
		vs = append(vs, fmt.Sprintf("%s=%s", p, id))
	}
	for _, id := range m.EdgeIDs() {
		p, _ := m.PatternOfEdge(id)
		es = append(es, fmt.Sprintf("%s=%s", p, id))
	}
	if len(es) == 0 {
		return strings.Join(vs, " ")
	}
	return strings.Join(vs, " ") + " | " + strings.Join(es, " ")
}
