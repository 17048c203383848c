package graphmatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process StorageAdapter backed by maps with label,
// source and destination indexes. It also implements Writer.
type MemoryStore struct {
	mu       sync.RWMutex
	vertices map[VertexID]*DataVertex
	edges    map[EdgeID]*DataEdge
	byVLabel map[string][]VertexID
	byELabel map[string][]EdgeID
	out      map[VertexID][]EdgeID
	in       map[VertexID][]EdgeID
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vertices: make(map[VertexID]*DataVertex),
		edges:    make(map[EdgeID]*DataEdge),
		byVLabel: make(map[string][]VertexID),
		byELabel: make(map[string][]EdgeID),
		out:      make(map[VertexID][]EdgeID),
		in:       make(map[VertexID][]EdgeID),
	}
}

// AddVertex inserts v, replacing any vertex with the same id. Props are
// normalised.
func (s *MemoryStore) AddVertex(v *DataVertex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addVertex(v)
}

func (s *MemoryStore) addVertex(v *DataVertex) {
	cp := &DataVertex{ID: v.ID, Label: v.Label, Props: NormalizeProps(v.Props)}
	if old, ok := s.vertices[v.ID]; ok {
		s.byVLabel[old.Label] = removeID(s.byVLabel[old.Label], v.ID)
	}
	s.vertices[v.ID] = cp
	s.byVLabel[cp.Label] = append(s.byVLabel[cp.Label], cp.ID)
}

// AddEdge inserts e. Both endpoints must already exist.
func (s *MemoryStore) AddEdge(e *DataEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEdge(e)
}

func (s *MemoryStore) addEdge(e *DataEdge) error {
	_, srcOK := s.vertices[e.Src]
	_, dstOK := s.vertices[e.Dst]
	if !srcOK || !dstOK {
		return NewDanglingEdgeError(e, srcOK, dstOK)
	}
	if old, ok := s.edges[e.ID]; ok {
		s.byELabel[old.Label] = removeID(s.byELabel[old.Label], e.ID)
		s.out[old.Src] = removeID(s.out[old.Src], e.ID)
		s.in[old.Dst] = removeID(s.in[old.Dst], e.ID)
	}
	cp := &DataEdge{ID: e.ID, Label: e.Label, Src: e.Src, Dst: e.Dst, Props: NormalizeProps(e.Props)}
	s.edges[e.ID] = cp
	s.byELabel[cp.Label] = append(s.byELabel[cp.Label], cp.ID)
	s.out[cp.Src] = append(s.out[cp.Src], cp.ID)
	s.in[cp.Dst] = append(s.in[cp.Dst], cp.ID)
	return nil
}

// PutVertices implements Writer.
func (s *MemoryStore) PutVertices(ctx context.Context, vs []*DataVertex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.addVertex(v)
	}
	return nil
}

// PutEdges implements Writer.
func (s *MemoryStore) PutEdges(ctx context.Context, es []*DataEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.addEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// VertexCount returns the number of stored vertices.
func (s *MemoryStore) VertexCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vertices)
}

// EdgeCount returns the number of stored edges.
func (s *MemoryStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// GetVertex returns ErrVertexNotFound for unknown ids.
func (s *MemoryStore) GetVertex(_ context.Context, id VertexID) (*DataVertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vertices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVertexNotFound, id)
	}
	return v, nil
}

// LoadVertices returns the vertices labelled label, sorted by id.
func (s *MemoryStore) LoadVertices(_ context.Context, label string, attr *PatternAttr) ([]*DataVertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DataVertex
	for _, id := range s.byVLabel[label] {
		v := s.vertices[id]
		if attr == nil || attr.Matches(v.Props) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadEdges returns every edge labelled label.
func (s *MemoryStore) LoadEdges(_ context.Context, label string, attr *PatternAttr) ([]*DataEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterEdges(s.byELabel[label], label, attr), nil
}

// LoadEdgesBySrc returns the out-edges of src.
func (s *MemoryStore) LoadEdgesBySrc(_ context.Context, src VertexID, label string, attr *PatternAttr) ([]*DataEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterEdges(s.out[src], label, attr), nil
}

// LoadEdgesByDst returns the in-edges of dst.
func (s *MemoryStore) LoadEdgesByDst(_ context.Context, dst VertexID, label string, attr *PatternAttr) ([]*DataEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterEdges(s.in[dst], label, attr), nil
}

func (s *MemoryStore) filterEdges(ids []EdgeID, label string, attr *PatternAttr) []*DataEdge {
	var out []*DataEdge
	for _, id := range ids {
		e := s.edges[id]
		if e.Label != label {
			continue
		}
		if attr == nil || attr.Matches(e.Props) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func removeID[T comparable](ids []T, id T) []T {
	for i, x := range ids {
		if x == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
