package graphmatch

import (
	"fmt"
	"log/slog"
	"time"
)

// VertexID uniquely identifies a vertex in the data graph.
type VertexID string

// EdgeID uniquely identifies an edge in the data graph.
type EdgeID string

// PatternID identifies a vertex or an edge of the pattern graph.
type PatternID string

// Props holds the typed scalar attributes of a data vertex or edge.
// Values are normalised to int64, float64 or string (see NormalizeValue).
type Props map[string]any

// DataVertex is a read-only snapshot of a vertex loaded from storage.
// Snapshots are shared by pointer between subgraphs and must not be mutated.
type DataVertex struct {
	ID    VertexID `json:"vid"`
	Label string   `json:"label"`
	Props Props    `json:"props,omitempty"`
}

// String returns a human-readable representation of the vertex.
func (v *DataVertex) String() string {
	return fmt.Sprintf("(%s:%s)", v.ID, v.Label)
}

// DataEdge is a read-only snapshot of a directed, labelled edge.
type DataEdge struct {
	ID    EdgeID   `json:"eid"`
	Label string   `json:"label"`
	Src   VertexID `json:"src_vid"`
	Dst   VertexID `json:"dst_vid"`
	Props Props    `json:"props,omitempty"`
}

// Touches reports whether v is one of the edge's endpoints.
func (e *DataEdge) Touches(v VertexID) bool {
	return e.Src == v || e.Dst == v
}

// Other returns the endpoint opposite to v. For a self loop it returns v.
func (e *DataEdge) Other(v VertexID) VertexID {
	if e.Src == v {
		return e.Dst
	}
	return e.Src
}

// String returns a human-readable representation of the edge.
func (e *DataEdge) String() string {
	return fmt.Sprintf("(%s)-[%s:%s]->(%s)", e.Src, e.ID, e.Label, e.Dst)
}

// PatternVertex is a vertex of the query pattern. Immutable once loaded.
type PatternVertex struct {
	ID    PatternID    `json:"vid"`
	Label string       `json:"label"`
	Attr  *PatternAttr `json:"attr,omitempty"`
}

// Accepts reports whether the data vertex satisfies the label and the
// attribute predicate of the pattern vertex.
func (p *PatternVertex) Accepts(v *DataVertex) bool {
	if v == nil || v.Label != p.Label {
		return false
	}
	return p.Attr == nil || p.Attr.Matches(v.Props)
}

// PatternEdge is a directed edge of the query pattern. Immutable once loaded.
type PatternEdge struct {
	ID    PatternID    `json:"eid"`
	Label string       `json:"label"`
	Src   PatternID    `json:"src_vid"`
	Dst   PatternID    `json:"dst_vid"`
	Attr  *PatternAttr `json:"attr,omitempty"`
}

// Accepts reports whether the data edge satisfies the label and the
// attribute predicate of the pattern edge. Endpoints are not checked.
func (p *PatternEdge) Accepts(e *DataEdge) bool {
	if e == nil || e.Label != p.Label {
		return false
	}
	return p.Attr == nil || p.Attr.Matches(e.Props)
}

// Far returns the endpoint of the pattern edge opposite to near.
func (p *PatternEdge) Far(near PatternID) PatternID {
	if p.Src == near {
		return p.Dst
	}
	return p.Src
}

// VNode is the adjacency entry of a vertex inside a DynSubgraph.
type VNode struct {
	In  []EdgeID `json:"e_in"`
	Out []EdgeID `json:"e_out"`
}

// DeadBranchPolicy selects what GetAdj does when one of its pattern edges
// cannot be matched by any pivot at all.
type DeadBranchPolicy int

const (
	// AbortBranch marks the whole plan dead: Report emits empty groups and
	// Execute returns no matches.
	AbortBranch DeadBranchPolicy = iota
	// KeepPartial records the miss but keeps the surviving partial matches,
	// so forest-shaped patterns can still report their connected components.
	KeepPartial
)

// String returns the policy name used in configuration files.
func (p DeadBranchPolicy) String() string {
	switch p {
	case AbortBranch:
		return "abort"
	case KeepPartial:
		return "keep-partial"
	default:
		return fmt.Sprintf("DeadBranchPolicy(%d)", int(p))
	}
}

// ParseDeadBranchPolicy converts a configuration string to a policy.
func ParseDeadBranchPolicy(s string) (DeadBranchPolicy, error) {
	switch s {
	case "", "abort":
		return AbortBranch, nil
	case "keep-partial", "keep_partial":
		return KeepPartial, nil
	}
	return AbortBranch, fmt.Errorf("graphmatch: unknown dead branch policy %q", s)
}

// InstructionStats describes one executed instruction. It is passed to
// Options.OnInstruction after every instruction completes.
type InstructionStats struct {
	Index        int             // position in the plan
	Type         InstructionType // instruction kind
	Vertex       PatternID       // pattern vertex the instruction works on
	TargetVar    string          // variable written by the instruction
	Materialized int             // ExpandingSubgraph instances created
	Produced     int             // entries in the written bucket
	Duration     time.Duration   // wall-clock time spent
}

// Options configures an Executor and the engines it loads.
type Options struct {
	// Directed restricts matching to the pattern edge direction. When false,
	// GetAdj queries both the src- and dst-indexed adjacency of each pivot.
	Directed bool

	// Incremental enables per-pivot edge loading in GetAdj and skipping of
	// already-expanded vertices in Init. When false, GetAdj scans every edge
	// with the pattern label once per instruction and filters in memory.
	Incremental bool

	// DeadBranch selects the policy applied when a pattern edge in a GetAdj
	// expand list finds no data edge for any pivot. Default: AbortBranch.
	DeadBranch DeadBranchPolicy

	// Parallelism bounds the number of concurrent storage reads issued by a
	// single GetAdj instruction. Values <= 1 keep every read sequential.
	Parallelism int

	// MaxMatches caps the number of final matches Execute may return.
	// Exceeding it fails the query with ErrResultTooLarge. 0 = unlimited.
	MaxMatches int

	// MaxIntermediate caps the number of ExpandingSubgraph instances a single
	// instruction may materialise before the query is aborted with
	// ErrIntermediateTooLarge. 0 = unlimited.
	MaxIntermediate int

	// DefaultTimeout applies when the caller's context has no deadline.
	// 0 = no default timeout.
	DefaultTimeout time.Duration

	// SlowQueryThreshold logs a warning for executions slower than this.
	// 0 disables slow query logging.
	SlowQueryThreshold time.Duration

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// OnInstruction, if set, is called synchronously after each instruction.
	OnInstruction func(InstructionStats)
}

// DefaultOptions returns sensible defaults: directed, incremental matching
// with sequential storage reads and no resource limits.
func DefaultOptions() Options {
	return Options{
		Directed:           true,
		Incremental:        true,
		DeadBranch:         AbortBranch,
		Parallelism:        1,
		SlowQueryThreshold: 100 * time.Millisecond,
	}
}
