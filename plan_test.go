package graphmatch

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan([]byte(trianglePlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if diff := cmp.Diff([]PatternID{"u1", "u2", "u3"}, p.VertexIDs()); diff != "" {
		t.Errorf("vertices (-want +got):\n%s", diff)
	}
	if got := p.Edges["e3"]; got.Src != "u3" || got.Dst != "u1" || got.Label != "Edge" {
		t.Errorf("unexpected e3: %+v", got)
	}
	if len(p.Instructions) != 9 {
		t.Fatalf("expected 9 instructions, got %d", len(p.Instructions))
	}

	multi := p.Instructions[5]
	want := []Operand{
		{Kind: OperandDBQueryTarget, Key: "u1", Raw: "A^u1"},
		{Kind: OperandDBQueryTarget, Key: "u2", Raw: "A^u2"},
	}
	if diff := cmp.Diff(want, multi.Multi); diff != "" {
		t.Errorf("multi operands (-want +got):\n%s", diff)
	}
	if multi.Target.Kind != OperandIntersectTarget {
		t.Errorf("expected T target, got %s", multi.Target.Kind)
	}
}

func TestParsePlanTupleForm(t *testing.T) {
	p, err := ParsePlan([]byte(yellowPlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if p.Vertices["u4"].Label != "Yellow" || p.Vertices["u4"].Attr != nil {
		t.Errorf("unexpected u4: %+v", p.Vertices["u4"])
	}
	if e := p.Edges["e4"]; e.Src != "u3" || e.Dst != "u4" {
		t.Errorf("unexpected e4: %+v", e)
	}
}

func TestParsePlanAttr(t *testing.T) {
	plan := `{
	  "vertices": {"u1": {"label": "Person", "attr": {"attr": "id", "op": "=", "value": 123, "type": "int"}}},
	  "edges": {},
	  "instructions": [{"vid": "u1", "type": "init", "target_var": "f^u1"}, {"type": "report"}]
	}`
	p, err := ParsePlan([]byte(plan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	a := p.Vertices["u1"].Attr
	if a == nil || a.Key != "id" || a.Op != OpEq || a.Value != int64(123) || a.Type != AttrInt {
		t.Fatalf("unexpected attr: %+v", a)
	}
}

func TestParseOperand(t *testing.T) {
	tests := []struct {
		in   string
		kind OperandKind
		key  PatternID
	}{
		{" ^u1", OperandDataVertexSet, "u1"},
		{"V^u1", OperandDataVertexSet, "u1"},
		{"f^u2", OperandEnumTarget, "u2"},
		{"A^u3", OperandDBQueryTarget, "u3"},
		{"T^u4", OperandIntersectTarget, "u4"},
		{"C^u5", OperandCandidate, "u5"},
	}
	for _, tt := range tests {
		op, err := ParseOperand(tt.in)
		if err != nil {
			t.Fatalf("ParseOperand(%q): %v", tt.in, err)
		}
		if op.Kind != tt.kind || op.Key != tt.key {
			t.Errorf("ParseOperand(%q) = %s/%s, want %s/%s", tt.in, op.Kind, op.Key, tt.kind, tt.key)
		}
	}

	for _, bad := range []string{"u1", "X^u1", "f^"} {
		if _, err := ParseOperand(bad); !errors.Is(err, ErrMalformedPlan) {
			t.Errorf("ParseOperand(%q): expected ErrMalformedPlan, got %v", bad, err)
		}
	}
}

func TestParsePlanMalformed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr error
	}{
		{
			name:    "unknown instruction",
			mutate:  func(s string) string { return strings.Replace(s, `"type": "report"`, `"type": "explode"`, 1) },
			wantErr: ErrUnknownInstruction,
		},
		{
			name:    "edge to unknown vertex",
			mutate:  func(s string) string { return strings.Replace(s, `"dst_vid": "u1"`, `"dst_vid": "u9"`, 1) },
			wantErr: ErrMalformedPlan,
		},
		{
			name:    "get_adj without f operand",
			mutate:  func(s string) string { return strings.Replace(s, `"single_op": "f^u1"`, `"single_op": "C^u1"`, 1) },
			wantErr: ErrMalformedPlan,
		},
		{
			name:    "expand edge not touching the vertex",
			mutate:  func(s string) string { return strings.Replace(s, `"expand_eid_list": ["e2"]`, `"expand_eid_list": ["e3"]`, 1) },
			wantErr: ErrMalformedPlan,
		},
		{
			name:    "not json",
			mutate:  func(string) string { return "{" },
			wantErr: ErrMalformedPlan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.mutate(trianglePlan)))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPlanJSONRoundTrip(t *testing.T) {
	p, err := ParsePlan([]byte(trianglePlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	q, err := ParsePlan(data)
	if err != nil {
		t.Fatalf("ParsePlan(re-encoded): %v", err)
	}
	if diff := cmp.Diff(p, q, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("plan changed after re-encoding (-want +got):\n%s", diff)
	}
}

func TestExplain(t *testing.T) {
	p, err := ParsePlan([]byte(trianglePlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	out := p.Explain().String()
	for _, want := range []string{
		"EXPLAIN:\nreport\n",
		"foreach (u3 C^u3 -> f^u3)",
		"intersect (u3 A^u1,A^u2 -> T^u3)",
		"get_adj (u1 f^u1 [e1,e3] -> A^u1)",
		"[see above]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("explain output lacks %q:\n%s", want, out)
		}
	}
}
