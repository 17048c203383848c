package graphmatch

import (
	"context"
	"testing"
)

func personStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	err := s.PutVertices(context.Background(), []*DataVertex{
		{ID: "p1", Label: "Person", Props: Props{"id": 123}},
		{ID: "p2", Label: "Person", Props: Props{"id": 456}},
		{ID: "p3", Label: "Person", Props: Props{"id": "123"}},
		{ID: "c1", Label: "City", Props: Props{"id": 123}},
	})
	if err != nil {
		t.Fatalf("PutVertices: %v", err)
	}
	return s
}

func TestInitAttributeFilter(t *testing.T) {
	tests := []struct {
		op   string
		want VertexID
	}{
		{"=", "p1"},
		{"!=", "p2"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			plan := `{
			  "vertices": {"u1": ["Person", {"attr": "id", "op": "` + tt.op + `", "value": 123, "type": "int"}]},
			  "edges": {},
			  "instructions": [{"vid": "u1", "type": "init", "target_var": "f^u1"}, {"type": "report"}]
			}`
			got, err := testEngine(t, plan, personStore(t)).Execute(context.Background())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if len(got) != 1 || !got[0].HasVertex(tt.want) || got[0].VertexCount() != 1 {
				t.Fatalf("expected only %s, got %v", tt.want, got)
			}
		})
	}
}

func TestPatternAttrTypeStrict(t *testing.T) {
	eq, err := NewPatternAttr("id", OpEq, 123, AttrInt)
	if err != nil {
		t.Fatalf("NewPatternAttr: %v", err)
	}
	ne, err := NewPatternAttr("id", OpNe, 123, AttrInt)
	if err != nil {
		t.Fatalf("NewPatternAttr: %v", err)
	}

	tests := []struct {
		props  Props
		eq, ne bool
	}{
		{Props{"id": 123}, true, false},
		{Props{"id": int32(123)}, true, false},
		{Props{"id": 456}, false, true},
		{Props{"id": "123"}, false, false}, // string never compares with int
		{Props{"id": 123.0}, false, false},
		{Props{}, false, false},
	}
	for _, tt := range tests {
		if got := eq.Matches(tt.props); got != tt.eq {
			t.Errorf("%v = 123: got %v, want %v", tt.props, got, tt.eq)
		}
		if got := ne.Matches(tt.props); got != tt.ne {
			t.Errorf("%v != 123: got %v, want %v", tt.props, got, tt.ne)
		}
	}
}

func TestPatternAttrOrdering(t *testing.T) {
	tests := []struct {
		op    CompareOp
		value any
		typ   AttrType
		props Props
		want  bool
	}{
		{OpGt, 10, AttrInt, Props{"age": 11}, true},
		{OpGe, 10, AttrInt, Props{"age": 10}, true},
		{OpLt, 1.5, AttrFloat, Props{"age": 1.25}, true},
		{OpLe, 1.5, AttrFloat, Props{"age": 2.0}, false},
		{OpGt, "b", AttrString, Props{"age": "c"}, true},
		{OpLt, "b", AttrString, Props{"age": "a"}, true},
	}
	for _, tt := range tests {
		a, err := NewPatternAttr("age", tt.op, tt.value, tt.typ)
		if err != nil {
			t.Fatalf("NewPatternAttr(%v %v): %v", tt.op, tt.value, err)
		}
		if got := a.Matches(tt.props); got != tt.want {
			t.Errorf("%s on %v: got %v, want %v", a, tt.props, got, tt.want)
		}
	}
}

func TestParseCompareOp(t *testing.T) {
	for in, want := range map[string]CompareOp{
		"=": OpEq, "==": OpEq, "≠": OpNe, "<>": OpNe, "≥": OpGe, "≤": OpLe, "<": OpLt,
	} {
		got, err := ParseCompareOp(in)
		if err != nil || got != want {
			t.Errorf("ParseCompareOp(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseCompareOp("~"); err == nil {
		t.Error("expected an error for an unknown operator")
	}
	if typ, err := ParseAttrType("str"); err != nil || typ != AttrString {
		t.Errorf("ParseAttrType(str) = %q, %v", typ, err)
	}
}
