package dataset

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mstrYoda/graphmatch"
	"github.com/mstrYoda/graphmatch/internal/storetest"
)

func TestLoadLayoutsAgree(t *testing.T) {
	var files []*File
	for _, path := range []string{"testdata/triangle.json", "testdata/triangle.yaml", "testdata/triangle"} {
		f, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", path, err)
		}
		files = append(files, f)
	}
	want := files[0].DataVertices()
	if want[1].Props["weight"] != int64(2) || want[2].Props["score"] != 0.5 {
		t.Fatalf("json props not normalised: %v %v", want[1].Props, want[2].Props)
	}
	for i, f := range files[1:] {
		if diff := cmp.Diff(want, f.DataVertices()); diff != "" {
			t.Errorf("layout %d vertices differ from json (-want +got):\n%s", i+1, diff)
		}
		if diff := cmp.Diff(files[0].DataEdges(), f.DataEdges()); diff != "" {
			t.Errorf("layout %d edges differ from json (-want +got):\n%s", i+1, diff)
		}
	}
}

func TestImportAndMatch(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "triangle"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	store := graphmatch.NewMemoryStore()
	st, err := Import(context.Background(), store, f, ImportOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.Vertices != 5 || st.Edges != 4 {
		t.Errorf("unexpected import stats: %+v", st)
	}

	e, err := graphmatch.FromPlan([]byte(storetest.TrianglePlan), store)
	if err != nil {
		t.Fatalf("FromPlan: %v", err)
	}
	defer e.Close()
	got, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 1 || !got[0].HasAllVertices("2", "3", "5") {
		t.Errorf("expected the 2-3-5 triangle, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		file File
		want string
	}{
		{"missing label", File{Vertices: []Vertex{{ID: "1"}}}, "vid and label are required"},
		{"duplicate vertex", File{Vertices: []Vertex{{ID: "1", Label: "A"}, {ID: "1", Label: "B"}}}, "duplicate vertex"},
		{"duplicate edge", File{
			Vertices: []Vertex{{ID: "1", Label: "A"}},
			Edges:    []Edge{{ID: "e", Label: "L", Src: "1", Dst: "1"}, {ID: "e", Label: "L", Src: "1", Dst: "1"}},
		}, "duplicate edge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	dangling := File{
		Vertices: []Vertex{{ID: "1", Label: "A"}},
		Edges:    []Edge{{ID: "e", Label: "L", Src: "1", Dst: "2"}},
	}
	if err := dangling.Validate(); !errors.Is(err, graphmatch.ErrDanglingEdge) {
		t.Errorf("expected ErrDanglingEdge, got %v", err)
	}
}

func TestParseAttrCells(t *testing.T) {
	got, err := parseAttrCells([]string{"a:int=-3", "b:float=2.5", "c:string=x=y", "url:with:colon:str=v", ""})
	if err != nil {
		t.Fatalf("parseAttrCells: %v", err)
	}
	want := map[string]any{"a": int64(-3), "b": 2.5, "c": "x=y", "url:with:colon": "v"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attributes (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"a=1", "a:int", "a:bool=true", "a:int=x"} {
		if _, err := parseAttrCells([]string{bad}); err == nil {
			t.Errorf("parseAttrCells(%q): expected an error", bad)
		}
	}
}

func TestReadVerticesCSVShortRow(t *testing.T) {
	if _, err := ReadVerticesCSV(strings.NewReader("1\n")); err == nil {
		t.Error("expected an error for a row without a label")
	}
}
