// Package server exposes a graphmatch Executor over HTTP/JSON.
package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mstrYoda/graphmatch"
)

// StatsFunc reports backend element counts for GET /api/stats.
type StatsFunc func(r *http.Request) (vertices, edges int64, err error)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wraps a graphmatch.Executor and exposes an HTTP/JSON API.
type Server struct {
	exec  *graphmatch.Executor
	stats StatsFunc
	mux   *http.ServeMux

	// Prepared plan pool: planID → *graphmatch.Engine
	plans   map[string]*graphmatch.Engine
	plansMu sync.RWMutex
}

// New creates a ready-to-use Server. stats may be nil.
func New(exec *graphmatch.Executor, stats StatsFunc) *Server {
	s := &Server{
		exec:  exec,
		stats: stats,
		plans: make(map[string]*graphmatch.Engine),
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// ServeHTTP implements http.Handler with CORS headers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		return
	}
	s.mux.ServeHTTP(w, r)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/slow-queries", s.handleSlowQueries)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Ad-hoc plans
	s.mux.HandleFunc("POST /api/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/explain", s.handleExplain)

	// Prepared plans
	s.mux.HandleFunc("POST /api/plans", s.handlePrepare)
	s.mux.HandleFunc("POST /api/plans/{id}/execute", s.handleExecutePrepared)
	s.mux.HandleFunc("DELETE /api/plans/{id}", s.handleDeletePrepared)
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, graphmatch.ErrMalformedPlan),
		errors.Is(err, graphmatch.ErrUnknownVariable),
		errors.Is(err, graphmatch.ErrUnknownPattern),
		errors.Is(err, graphmatch.ErrUnknownInstruction):
		return http.StatusBadRequest
	case errors.Is(err, graphmatch.ErrResultTooLarge),
		errors.Is(err, graphmatch.ErrIntermediateTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, graphmatch.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ---------------------------------------------------------------------------
// Stats and metrics
// ---------------------------------------------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"metrics": s.exec.Metrics().Snapshot()}
	if s.stats != nil {
		v, e, err := s.stats(r)
		if err != nil {
			writeError(w, 500, err.Error())
			return
		}
		resp["vertices"] = v
		resp["edges"] = e
	}
	s.plansMu.RLock()
	resp["prepared_plans"] = len(s.plans)
	s.plansMu.RUnlock()
	writeJSON(w, 200, resp)
}

func (s *Server) handleSlowQueries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, 400, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries := s.exec.SlowQueries(limit)
	if entries == nil {
		entries = []graphmatch.SlowQueryEntry{}
	}
	writeJSON(w, 200, map[string]any{"entries": entries})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.exec.Metrics().WritePrometheus(w)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

type executeRequest struct {
	Plan   json.RawMessage `json:"plan"`
	Groups bool            `json:"groups"`
}

type executeResponse struct {
	Matches    []*graphmatch.DynSubgraph   `json:"matches,omitempty"`
	Groups     [][]*graphmatch.DynSubgraph `json:"groups,omitempty"`
	MatchCount int                         `json:"matchCount"`
	ExecTimeMs float64                     `json:"execTimeMs"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	if len(req.Plan) == 0 {
		writeError(w, 400, "plan is required")
		return
	}
	eng, err := s.exec.Load(req.Plan)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	s.run(w, r, eng, req.Groups)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, eng *graphmatch.Engine, groups bool) {
	start := time.Now()
	var resp executeResponse
	if groups {
		gs, err := eng.ExecuteWithoutFinalJoin(r.Context())
		if err != nil {
			writeError(w, statusOf(err), err.Error())
			return
		}
		resp.Groups = gs
		for _, g := range gs {
			resp.MatchCount += len(g)
		}
	} else {
		ms, err := eng.Execute(r.Context())
		if err != nil {
			writeError(w, statusOf(err), err.Error())
			return
		}
		if ms == nil {
			ms = []*graphmatch.DynSubgraph{}
		}
		resp.Matches = ms
		resp.MatchCount = len(ms)
	}
	resp.ExecTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	writeJSON(w, 200, resp)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	p, err := graphmatch.ParsePlan(req.Plan)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{
		"summary": p.Summary(),
		"plan":    p.Explain().String(),
	})
}

// ---------------------------------------------------------------------------
// Prepared plans
// ---------------------------------------------------------------------------

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	eng, err := s.exec.Load(req.Plan)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}

	h := sha256.Sum256(req.Plan)
	planID := hex.EncodeToString(h[:8]) // 16-char hex

	s.plansMu.Lock()
	s.plans[planID] = eng
	s.plansMu.Unlock()

	writeJSON(w, 201, map[string]string{
		"plan_id": planID,
		"summary": eng.Plan().Summary(),
		"status":  "prepared",
	})
}

func (s *Server) handleExecutePrepared(w http.ResponseWriter, r *http.Request) {
	s.plansMu.RLock()
	eng, ok := s.plans[r.PathValue("id")]
	s.plansMu.RUnlock()
	if !ok {
		writeError(w, 404, "plan not found, call POST /api/plans first")
		return
	}
	groups := r.URL.Query().Get("groups") == "true"
	s.run(w, r, eng, groups)
}

func (s *Server) handleDeletePrepared(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.plansMu.Lock()
	_, ok := s.plans[id]
	delete(s.plans, id)
	s.plansMu.Unlock()
	if !ok {
		writeError(w, 404, "plan not found")
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted", "plan_id": id})
}
