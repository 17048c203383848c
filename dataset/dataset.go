// Package dataset reads data graphs from files and imports them into any
// graphmatch.Writer.
//
// Three layouts are understood:
//
//	graph.json / graph.yaml   {"vertices": [...], "edges": [...]}
//	<dir>/vertices.csv        vid,label,key:type=value,...
//	<dir>/edges.csv           eid,label,src_vid,dst_vid,key:type=value,...
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mstrYoda/graphmatch"
)

// Vertex is the file form of a data vertex.
type Vertex struct {
	ID    string         `json:"vid" yaml:"vid"`
	Label string         `json:"label" yaml:"label"`
	Props map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// Edge is the file form of a data edge.
type Edge struct {
	ID    string         `json:"eid" yaml:"eid"`
	Label string         `json:"label" yaml:"label"`
	Src   string         `json:"src_vid" yaml:"src_vid"`
	Dst   string         `json:"dst_vid" yaml:"dst_vid"`
	Props map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// File is a whole data graph.
type File struct {
	Vertices []Vertex `json:"vertices" yaml:"vertices"`
	Edges    []Edge   `json:"edges" yaml:"edges"`
}

// DataVertices converts the vertices, normalising property values.
func (f *File) DataVertices() []*graphmatch.DataVertex {
	out := make([]*graphmatch.DataVertex, len(f.Vertices))
	for i, v := range f.Vertices {
		out[i] = &graphmatch.DataVertex{
			ID:    graphmatch.VertexID(v.ID),
			Label: v.Label,
			Props: graphmatch.NormalizeProps(v.Props),
		}
	}
	return out
}

// DataEdges converts the edges, normalising property values.
func (f *File) DataEdges() []*graphmatch.DataEdge {
	out := make([]*graphmatch.DataEdge, len(f.Edges))
	for i, e := range f.Edges {
		out[i] = &graphmatch.DataEdge{
			ID:    graphmatch.EdgeID(e.ID),
			Label: e.Label,
			Src:   graphmatch.VertexID(e.Src),
			Dst:   graphmatch.VertexID(e.Dst),
			Props: graphmatch.NormalizeProps(e.Props),
		}
	}
	return out
}

// Validate checks ids are present and unique and that every edge has
// both endpoints in the file.
func (f *File) Validate() error {
	vids := make(map[string]bool, len(f.Vertices))
	for i, v := range f.Vertices {
		if v.ID == "" || v.Label == "" {
			return fmt.Errorf("dataset: vertex %d: vid and label are required", i)
		}
		if vids[v.ID] {
			return fmt.Errorf("dataset: duplicate vertex %q", v.ID)
		}
		vids[v.ID] = true
	}
	eids := make(map[string]bool, len(f.Edges))
	for i, e := range f.Edges {
		if e.ID == "" || e.Label == "" {
			return fmt.Errorf("dataset: edge %d: eid and label are required", i)
		}
		if eids[e.ID] {
			return fmt.Errorf("dataset: duplicate edge %q", e.ID)
		}
		eids[e.ID] = true
		if !vids[e.Src] || !vids[e.Dst] {
			de := &graphmatch.DataEdge{ID: graphmatch.EdgeID(e.ID), Src: graphmatch.VertexID(e.Src), Dst: graphmatch.VertexID(e.Dst)}
			return fmt.Errorf("dataset: %w", graphmatch.NewDanglingEdgeError(de, vids[e.Src], vids[e.Dst]))
		}
	}
	return nil
}

// DecodeJSON reads the JSON layout. Numbers without a fraction become
// int64.
func DecodeJSON(r io.Reader) (*File, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("dataset: decode json: %w", err)
	}
	return &f, nil
}

// DecodeYAML reads the YAML layout.
func DecodeYAML(r io.Reader) (*File, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("dataset: decode yaml: %w", err)
	}
	return &f, nil
}

// Load reads path. A directory is read as the CSV layout; files are
// dispatched on their extension.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if info.IsDir() {
		return LoadCSVDir(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	var f *File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err = DecodeJSON(bytes.NewReader(data))
	case ".yaml", ".yml":
		f, err = DecodeYAML(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return f, f.Validate()
}

// ImportOptions controls Import.
type ImportOptions struct {
	// BatchSize bounds the elements per Writer call. Default 1000.
	BatchSize int
	Logger    *slog.Logger
}

// ImportStats reports what Import wrote.
type ImportStats struct {
	Vertices int
	Edges    int
	Duration time.Duration
}

// Import writes every vertex, then every edge, in batches.
func Import(ctx context.Context, w graphmatch.Writer, f *File, opts ImportOptions) (ImportStats, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	var st ImportStats

	vs := f.DataVertices()
	for lo := 0; lo < len(vs); lo += batch {
		hi := min(lo+batch, len(vs))
		if err := w.PutVertices(ctx, vs[lo:hi]); err != nil {
			return st, fmt.Errorf("dataset: import vertices %d-%d: %w", lo, hi, err)
		}
		st.Vertices = hi
	}
	es := f.DataEdges()
	for lo := 0; lo < len(es); lo += batch {
		hi := min(lo+batch, len(es))
		if err := w.PutEdges(ctx, es[lo:hi]); err != nil {
			return st, fmt.Errorf("dataset: import edges %d-%d: %w", lo, hi, err)
		}
		st.Edges = hi
	}
	st.Duration = time.Since(start)
	logger.Info("dataset imported",
		"vertices", st.Vertices,
		"edges", st.Edges,
		"duration", st.Duration,
	)
	return st, nil
}
