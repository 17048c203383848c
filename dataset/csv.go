package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mstrYoda/graphmatch"
)

// CSV file names inside a dataset directory.
const (
	VerticesCSV = "vertices.csv"
	EdgesCSV    = "edges.csv"
)

// LoadCSVDir reads vertices.csv and edges.csv from dir. edges.csv may be
// absent.
func LoadCSVDir(dir string) (*File, error) {
	f := &File{}
	vf, err := os.Open(filepath.Join(dir, VerticesCSV))
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer vf.Close()
	if f.Vertices, err = ReadVerticesCSV(vf); err != nil {
		return nil, err
	}

	ef, err := os.Open(filepath.Join(dir, EdgesCSV))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("dataset: %w", err)
	default:
		defer ef.Close()
		if f.Edges, err = ReadEdgesCSV(ef); err != nil {
			return nil, err
		}
	}
	return f, f.Validate()
}

// ReadVerticesCSV reads rows of vid,label followed by attribute cells.
// A first row starting with "vid" is treated as a header.
func ReadVerticesCSV(r io.Reader) ([]Vertex, error) {
	var out []Vertex
	err := readRows(r, VerticesCSV, "vid", 2, func(line int, row []string) error {
		props, err := parseAttrCells(row[2:])
		if err != nil {
			return fmt.Errorf("dataset: %s:%d: %w", VerticesCSV, line, err)
		}
		out = append(out, Vertex{ID: row[0], Label: row[1], Props: props})
		return nil
	})
	return out, err
}

// ReadEdgesCSV reads rows of eid,label,src_vid,dst_vid followed by
// attribute cells. A first row starting with "eid" is treated as a header.
func ReadEdgesCSV(r io.Reader) ([]Edge, error) {
	var out []Edge
	err := readRows(r, EdgesCSV, "eid", 4, func(line int, row []string) error {
		props, err := parseAttrCells(row[4:])
		if err != nil {
			return fmt.Errorf("dataset: %s:%d: %w", EdgesCSV, line, err)
		}
		out = append(out, Edge{ID: row[0], Label: row[1], Src: row[2], Dst: row[3], Props: props})
		return nil
	})
	return out, err
}

func readRows(r io.Reader, name, header string, minFields int, fn func(line int, row []string) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dataset: %s: %w", name, err)
		}
		if line == 1 && len(row) > 0 && row[0] == header {
			continue
		}
		if len(row) < minFields {
			return fmt.Errorf("dataset: %s:%d: expected at least %d fields, got %d", name, line, minFields, len(row))
		}
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

// parseAttrCells parses "key:type=value" cells. Empty cells are skipped.
func parseAttrCells(cells []string) (map[string]any, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(cells))
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		lhs, text, ok := strings.Cut(cell, "=")
		if !ok {
			return nil, fmt.Errorf("attribute %q: missing '='", cell)
		}
		i := strings.LastIndexByte(lhs, ':')
		if i <= 0 {
			return nil, fmt.Errorf("attribute %q: expected key:type", cell)
		}
		typ, err := graphmatch.ParseAttrType(lhs[i+1:])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", cell, err)
		}
		v, err := graphmatch.ParseTypedValue(text, typ)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", cell, err)
		}
		props[lhs[:i]] = v
	}
	return props, nil
}
