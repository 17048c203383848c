package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	planFile  = "testdata/triangle_plan.json"
	graphFile = "testdata/graph.json"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunMemory(t *testing.T) {
	out, err := execute(t, "run", "--path", graphFile, planFile)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	want := "match 1: u1=2 u2=3 u3=5 | e1=a e3=b e2=c\n1 matches\n"
	if out != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", out, want)
	}
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, "run", "--path", graphFile, "--format", "json", planFile)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var m struct {
		Vertices []struct {
			ID      string `json:"vid"`
			Pattern string `json:"pattern"`
		} `json:"vertices"`
		Edges []json.RawMessage `json:"edges"`
	}
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(m.Vertices) != 3 || len(m.Edges) != 3 {
		t.Errorf("expected 3 vertices and 3 edges, got %s", out)
	}
}

func TestRunProfileAndMetrics(t *testing.T) {
	out, err := execute(t, "run", "--path", graphFile, "--profile", "--metrics", planFile)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"PROFILE:\nreport", "1 matches", "graphmatch_queries_total 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestImportAndRunPersistent(t *testing.T) {
	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			db := filepath.Join(t.TempDir(), "graph."+backend)
			out, err := execute(t, "import", "--backend", backend, "--path", db, "--batch", "2", graphFile)
			if err != nil {
				t.Fatalf("import: %v\n%s", err, out)
			}
			if !strings.Contains(out, "imported 5 vertices and 4 edges") {
				t.Errorf("unexpected import output: %s", out)
			}

			out, err = execute(t, "stats", "--backend", backend, "--path", db)
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if !strings.Contains(out, "vertices: 5\nedges: 4\n") {
				t.Errorf("unexpected stats: %s", out)
			}

			out, err = execute(t, "run", "--backend", backend, "--path", db, planFile)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.HasSuffix(out, "1 matches\n") {
				t.Errorf("unexpected run output: %s", out)
			}
		})
	}
}

func TestImportRejectsMemory(t *testing.T) {
	if _, err := execute(t, "import", graphFile); err == nil {
		t.Error("expected import into the memory backend to fail")
	}
}

func TestExplain(t *testing.T) {
	out, err := execute(t, "explain", planFile)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !strings.Contains(out, "EXPLAIN:\nreport") {
		t.Errorf("unexpected explain output:\n%s", out)
	}
}

func TestConfigFile(t *testing.T) {
	abs, err := filepath.Abs(graphFile)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, "backend: memory\npath: "+abs+"\nengine:\n  directed: false\n  max_matches: 10\n")
	out, err := execute(t, "--config", good, "run", planFile)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Undirected matching also finds the triangle.
	if !strings.HasSuffix(out, "1 matches\n") {
		t.Errorf("unexpected output: %s", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "path: "+abs+"\nengine:\n  dead_branch: explode\n")
	if _, err := execute(t, "--config", bad, "run", planFile); err == nil {
		t.Error("expected an error for an unknown dead branch policy")
	}

	if _, err := execute(t, "--config", filepath.Join(dir, "missing.yaml"), "explain", planFile); err == nil {
		t.Error("expected an error for an explicit missing config file")
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := execute(t, "stats", "--backend", "cassandra"); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestBench(t *testing.T) {
	out, err := execute(t, "bench", "--path", graphFile, "--workers", "3", "--iterations", "10", planFile)
	if err != nil {
		t.Fatalf("bench: %v\n%s", err, out)
	}
	if !strings.Contains(out, "triangle_plan.json") || !strings.Contains(out, "10 executions in") {
		t.Errorf("unexpected bench output:\n%s", out)
	}
}

func TestHistogramStats(t *testing.T) {
	h := &histogram{}
	for i := 1; i <= 100; i++ {
		h.record(time.Duration(i)*time.Millisecond, 1, i == 100)
	}
	st := h.stats()
	if st.Count != 100 || st.Errors != 1 || st.Matches != 100 {
		t.Fatalf("stats = %+v", st)
	}
	if st.P50 != 50*time.Millisecond || st.P99 != 99*time.Millisecond || st.Max != 100*time.Millisecond {
		t.Errorf("percentiles = %s/%s/%s", st.P50, st.P99, st.Max)
	}
	if (&histogram{}).stats().Count != 0 {
		t.Error("empty histogram has samples")
	}
}

func TestServeHandler(t *testing.T) {
	cfg := defaultConfig()
	cfg.Path = graphFile
	logger, err := cfg.logger()
	if err != nil {
		t.Fatal(err)
	}
	srv, b, exec, err := buildServer(context.Background(), &cli{cfg: cfg, logger: logger})
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	defer b.close()
	defer exec.Close()

	plan, err := os.ReadFile(planFile)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/api/execute", strings.NewReader(`{"plan": `+string(plan)+`}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"matchCount":1`) {
		t.Errorf("unexpected body: %s", w.Body)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/stats", nil))
	if !strings.Contains(w.Body.String(), `"vertices":5`) {
		t.Errorf("unexpected stats: %s", w.Body)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
