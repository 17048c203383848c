package graphmatch

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrapped errors keep these reachable via errors.Is.
var (
	// ErrMalformedPlan is returned for plans that violate the plan contract:
	// unknown instruction types, dangling variable references, missing
	// pattern ids. The whole query fails immediately.
	ErrMalformedPlan = errors.New("graphmatch: malformed plan")

	// ErrUnknownVariable is returned when an instruction reads a bucket
	// variable that no earlier instruction produced.
	ErrUnknownVariable = errors.New("graphmatch: unknown variable")

	// ErrUnknownPattern is returned for pattern vertex or edge ids that are
	// not part of the plan's pattern graph.
	ErrUnknownPattern = errors.New("graphmatch: unknown pattern element")

	// ErrUnknownInstruction is returned for instruction types outside the
	// closed instruction set.
	ErrUnknownInstruction = errors.New("graphmatch: unknown instruction type")

	// ErrDanglingEdge is the root of every DanglingEdgeError.
	ErrDanglingEdge = errors.New("graphmatch: dangling edge")

	// ErrVertexHasEdges is returned by RemoveV with SelfOnly when the vertex
	// still has incident edges.
	ErrVertexHasEdges = errors.New("graphmatch: vertex still has incident edges")

	// ErrVertexNotFound is returned by StorageAdapter.GetVertex.
	ErrVertexNotFound = errors.New("graphmatch: vertex not found")

	// ErrExecutorClosed is returned by operations on a closed Executor.
	ErrExecutorClosed = errors.New("graphmatch: executor is closed")
)

// malformed wraps a plan contract violation.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPlan, fmt.Sprintf(format, args...))
}

// DanglingKind tells which endpoints of an edge were missing.
type DanglingKind int

const (
	DanglingSrc DanglingKind = iota + 1
	DanglingDst
	DanglingBoth
)

func (k DanglingKind) String() string {
	switch k {
	case DanglingSrc:
		return "half-dangling on src"
	case DanglingDst:
		return "half-dangling on dst"
	case DanglingBoth:
		return "completely dangling"
	}
	return "unknown"
}

// DanglingEdgeError reports an edge added without both endpoints present.
// From a DynSubgraph it indicates an engine bug; from a store's write API
// it indicates bad input.
type DanglingEdgeError struct {
	Edge EdgeID
	Src  VertexID
	Dst  VertexID
	Kind DanglingKind
}

func (e *DanglingEdgeError) Error() string {
	switch e.Kind {
	case DanglingSrc:
		return fmt.Sprintf("graphmatch: %s edge ? -[%s]-> (%s)", e.Kind, e.Edge, e.Dst)
	case DanglingDst:
		return fmt.Sprintf("graphmatch: %s edge (%s) -[%s]-> ?", e.Kind, e.Src, e.Edge)
	}
	return fmt.Sprintf("graphmatch: %s edge ? -[%s]-> ?", e.Kind, e.Edge)
}

func (e *DanglingEdgeError) Unwrap() error { return ErrDanglingEdge }

// NewDanglingEdgeError describes e given which of its endpoints exist.
// Storage backends use it to reject edges on write.
func NewDanglingEdgeError(e *DataEdge, srcOK, dstOK bool) *DanglingEdgeError {
	return &DanglingEdgeError{Edge: e.ID, Src: e.Src, Dst: e.Dst, Kind: danglingKind(srcOK, dstOK)}
}

func danglingKind(srcOK, dstOK bool) DanglingKind {
	switch {
	case !srcOK && !dstOK:
		return DanglingBoth
	case !srcOK:
		return DanglingSrc
	}
	return DanglingDst
}
