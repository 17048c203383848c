package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mstrYoda/graphmatch"
	"github.com/mstrYoda/graphmatch/internal/storetest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := graphmatch.NewMemoryStore()
	storetest.Fill(t, store)
	exec := graphmatch.NewExecutor(store, graphmatch.DefaultOptions())
	t.Cleanup(func() { exec.Close() })
	return New(exec, func(*http.Request) (int64, int64, error) {
		return int64(len(storetest.Vertices())), int64(len(storetest.Edges())), nil
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type matchesBody struct {
	Matches []struct {
		Vertices []struct {
			ID string `json:"vid"`
		} `json:"vertices"`
	} `json:"matches"`
	Groups     [][]json.RawMessage `json:"groups"`
	MatchCount int                 `json:"matchCount"`
}

var planBody = `{"plan": ` + storetest.TrianglePlan + `}`

func TestExecute(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/execute", planBody)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	got := decode[matchesBody](t, w)
	if got.MatchCount != 1 || len(got.Matches) != 1 {
		t.Fatalf("expected 1 match, got %s", w.Body)
	}
	var ids []string
	for _, v := range got.Matches[0].Vertices {
		ids = append(ids, v.ID)
	}
	if diff := cmp.Diff([]string{"2", "3", "5"}, ids); diff != "" {
		t.Errorf("match vertices (-want +got):\n%s", diff)
	}
}

func TestExecuteGroups(t *testing.T) {
	s := newTestServer(t)
	body := `{"groups": true, "plan": ` + storetest.TrianglePlan + `}`
	w := do(t, s, "POST", "/api/execute", body)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	got := decode[matchesBody](t, w)
	if len(got.Groups) == 0 || got.MatchCount == 0 {
		t.Errorf("expected groups, got %s", w.Body)
	}
}

func TestExecuteErrors(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, 400},
		{"missing plan", `{}`, 400},
		{"malformed plan", `{"plan": {"matching_order": 3}}`, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, "POST", "/api/execute", tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tc.want, w.Body)
			}
			if decode[map[string]string](t, w)["error"] == "" {
				t.Errorf("expected an error message, got %s", w.Body)
			}
		})
	}
}

func TestExplain(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/explain", planBody)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	got := decode[map[string]string](t, w)
	if !strings.Contains(got["plan"], "report") {
		t.Errorf("explain output lacks report step: %q", got["plan"])
	}
	if got["summary"] == "" {
		t.Error("empty summary")
	}
}

func TestPreparedPlans(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/plans", planBody)
	if w.Code != 201 {
		t.Fatalf("prepare status %d: %s", w.Code, w.Body)
	}
	id := decode[map[string]string](t, w)["plan_id"]
	if len(id) != 16 {
		t.Fatalf("plan id = %q", id)
	}

	// Same plan text yields the same id.
	if again := decode[map[string]string](t, do(t, s, "POST", "/api/plans", planBody))["plan_id"]; again != id {
		t.Errorf("re-prepare id = %q, want %q", again, id)
	}

	for i := 0; i < 2; i++ {
		w = do(t, s, "POST", "/api/plans/"+id+"/execute", "")
		if w.Code != 200 {
			t.Fatalf("execute %d status %d: %s", i, w.Code, w.Body)
		}
		if n := decode[matchesBody](t, w).MatchCount; n != 1 {
			t.Errorf("execute %d: %d matches", i, n)
		}
	}

	if w = do(t, s, "DELETE", "/api/plans/"+id, ""); w.Code != 200 {
		t.Fatalf("delete status %d", w.Code)
	}
	if w = do(t, s, "POST", "/api/plans/"+id+"/execute", ""); w.Code != 404 {
		t.Errorf("execute after delete: status %d", w.Code)
	}
	if w = do(t, s, "DELETE", "/api/plans/"+id, ""); w.Code != 404 {
		t.Errorf("second delete: status %d", w.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	s := newTestServer(t)
	do(t, s, "POST", "/api/execute", planBody)

	w := do(t, s, "GET", "/api/stats", "")
	if w.Code != 200 {
		t.Fatalf("stats status %d", w.Code)
	}
	type statsBody struct {
		Vertices int64          `json:"vertices"`
		Edges    int64          `json:"edges"`
		Metrics  map[string]any `json:"metrics"`
	}
	stats := decode[statsBody](t, w)
	if stats.Vertices != 5 || stats.Edges != 5 {
		t.Errorf("stats = %d/%d, want 5/5", stats.Vertices, stats.Edges)
	}
	if q, _ := stats.Metrics["queries_total"].(float64); q != 1 {
		t.Errorf("queries_total = %v", stats.Metrics["queries_total"])
	}

	w = do(t, s, "GET", "/metrics", "")
	if !strings.Contains(w.Body.String(), "graphmatch_queries_total 1") {
		t.Errorf("metrics output:\n%s", w.Body)
	}
}

func TestSlowQueries(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/slow-queries?limit=5", "")
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"entries":[]`) {
		t.Errorf("expected empty entries, got %s", w.Body)
	}
	if w = do(t, s, "GET", "/api/slow-queries?limit=x", ""); w.Code != 400 {
		t.Errorf("bad limit: status %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "OPTIONS", "/api/execute", "")
	if w.Code != 200 {
		t.Errorf("status %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{graphmatch.ErrMalformedPlan, 400},
		{graphmatch.ErrResultTooLarge, 422},
		{graphmatch.ErrExecutorClosed, 503},
		{errors.New("boom"), 500},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
