package graphmatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// InstructionType is the closed set of plan instruction kinds.
type InstructionType string

const (
	InstrInit      InstructionType = "init"
	InstrGetAdj    InstructionType = "get_adj"
	InstrIntersect InstructionType = "intersect"
	InstrForeach   InstructionType = "foreach"
	InstrTCache    InstructionType = "t_cache" // deprecated, executed as a no-op
	InstrReport    InstructionType = "report"
)

func (t InstructionType) valid() bool {
	switch t {
	case InstrInit, InstrGetAdj, InstrIntersect, InstrForeach, InstrTCache, InstrReport:
		return true
	}
	return false
}

// OperandKind is the typed form of a variable prefix.
type OperandKind int

const (
	OperandNone            OperandKind = iota
	OperandDataVertexSet               // " ^x" or "V^x": candidates loaded from storage
	OperandEnumTarget                  // "f^x": F-bucket
	OperandDBQueryTarget               // "A^x": A-bucket
	OperandIntersectTarget             // "T^x": T-bucket
	OperandCandidate                   // "C^x": C-bucket
)

func (k OperandKind) String() string {
	switch k {
	case OperandDataVertexSet:
		return "V"
	case OperandEnumTarget:
		return "f"
	case OperandDBQueryTarget:
		return "A"
	case OperandIntersectTarget:
		return "T"
	case OperandCandidate:
		return "C"
	}
	return "-"
}

// varSeparator splits a variable name into prefix and key.
const varSeparator = "^"

// Operand is a parsed plan variable.
type Operand struct {
	Kind OperandKind
	Key  PatternID // bucket pool key, the part after "^"
	Raw  string
}

// IsZero reports whether the operand is absent.
func (o Operand) IsZero() bool { return o.Kind == OperandNone }

func (o Operand) String() string {
	if o.Raw != "" {
		return o.Raw
	}
	if o.IsZero() {
		return "<none>"
	}
	return o.Kind.String() + varSeparator + string(o.Key)
}

// ParseOperand converts "<prefix>^<name>" into an Operand.
func ParseOperand(s string) (Operand, error) {
	idx := strings.Index(s, varSeparator)
	if idx < 0 {
		return Operand{}, malformed("variable %q has no %q separator", s, varSeparator)
	}
	key := PatternID(s[idx+1:])
	if key == "" {
		return Operand{}, malformed("variable %q has an empty name", s)
	}
	var kind OperandKind
	switch strings.TrimSpace(s[:idx]) {
	case "", "V":
		kind = OperandDataVertexSet
	case "f":
		kind = OperandEnumTarget
	case "A":
		kind = OperandDBQueryTarget
	case "T":
		kind = OperandIntersectTarget
	case "C":
		kind = OperandCandidate
	default:
		return Operand{}, malformed("variable %q has unknown prefix %q", s, s[:idx])
	}
	return Operand{Kind: kind, Key: key, Raw: s}, nil
}

// Instruction is one step of a compiled plan.
type Instruction struct {
	Vertex      PatternID
	Type        InstructionType
	ExpandEdges []PatternID
	Single      Operand
	Multi       []Operand
	Target      Operand
	DependOn    []string
}

// PrimaryOperand returns the single operand, or the only multi operand
// when the single one is absent.
func (i Instruction) PrimaryOperand() Operand {
	if i.Single.IsZero() && len(i.Multi) == 1 {
		return i.Multi[0]
	}
	return i.Single
}

type instructionJSON struct {
	Vid           string   `json:"vid"`
	Type          string   `json:"type"`
	ExpandEidList []string `json:"expand_eid_list"`
	SingleOp      *string  `json:"single_op"`
	MultiOps      []string `json:"multi_ops"`
	TargetVar     string   `json:"target_var"`
	DependOn      []string `json:"depend_on"`
}

// Plan is a compiled matching plan: the pattern graph plus the linear
// instruction sequence that matches it.
type Plan struct {
	MatchingOrder []PatternID
	Vertices      map[PatternID]*PatternVertex
	Edges         map[PatternID]*PatternEdge
	Instructions  []Instruction
}

type planJSON struct {
	MatchingOrder []string                   `json:"matching_order"`
	Vertices      map[string]json.RawMessage `json:"vertices"`
	Edges         map[string]json.RawMessage `json:"edges"`
	Instructions  []instructionJSON          `json:"instructions"`
}

// ParsePlan decodes and validates a plan. Vertex and edge entries may use
// the object form {vid,label,attr} / {eid,label,src_vid,dst_vid,attr} or
// the tuple form [label, attr] / [src_vid, dst_vid, label, attr].
func ParsePlan(data []byte) (*Plan, error) {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	p := &Plan{
		Vertices: make(map[PatternID]*PatternVertex, len(raw.Vertices)),
		Edges:    make(map[PatternID]*PatternEdge, len(raw.Edges)),
	}
	for _, id := range raw.MatchingOrder {
		p.MatchingOrder = append(p.MatchingOrder, PatternID(id))
	}
	for id, msg := range raw.Vertices {
		v, err := decodePatternVertex(PatternID(id), msg)
		if err != nil {
			return nil, err
		}
		p.Vertices[v.ID] = v
	}
	for id, msg := range raw.Edges {
		e, err := decodePatternEdge(PatternID(id), msg)
		if err != nil {
			return nil, err
		}
		p.Edges[e.ID] = e
	}
	for i, ri := range raw.Instructions {
		instr, err := decodeInstruction(ri)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		p.Instructions = append(p.Instructions, instr)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodePatternVertex(id PatternID, msg json.RawMessage) (*PatternVertex, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) > 0 && msg[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(msg, &tuple); err != nil || len(tuple) < 1 {
			return nil, malformed("vertex %s: bad tuple", id)
		}
		v := &PatternVertex{ID: id}
		if err := json.Unmarshal(tuple[0], &v.Label); err != nil {
			return nil, malformed("vertex %s: bad label: %v", id, err)
		}
		if len(tuple) > 1 {
			attr, err := decodeOptionalAttr(tuple[1])
			if err != nil {
				return nil, malformed("vertex %s: %v", id, err)
			}
			v.Attr = attr
		}
		return v, nil
	}

	var obj struct {
		Vid   string          `json:"vid"`
		Label string          `json:"label"`
		Attr  json.RawMessage `json:"attr"`
	}
	if err := json.Unmarshal(msg, &obj); err != nil {
		return nil, malformed("vertex %s: %v", id, err)
	}
	if obj.Vid != "" && PatternID(obj.Vid) != id {
		return nil, malformed("vertex key %s does not match vid %s", id, obj.Vid)
	}
	attr, err := decodeOptionalAttr(obj.Attr)
	if err != nil {
		return nil, malformed("vertex %s: %v", id, err)
	}
	return &PatternVertex{ID: id, Label: obj.Label, Attr: attr}, nil
}

func decodePatternEdge(id PatternID, msg json.RawMessage) (*PatternEdge, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) > 0 && msg[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(msg, &tuple); err != nil || len(tuple) < 3 {
			return nil, malformed("edge %s: bad tuple", id)
		}
		var src, dst, label string
		for i, field := range []*string{&src, &dst, &label} {
			if err := json.Unmarshal(tuple[i], field); err != nil {
				return nil, malformed("edge %s: tuple field %d: %v", id, i, err)
			}
		}
		e := &PatternEdge{ID: id, Label: label, Src: PatternID(src), Dst: PatternID(dst)}
		if len(tuple) > 3 {
			attr, err := decodeOptionalAttr(tuple[3])
			if err != nil {
				return nil, malformed("edge %s: %v", id, err)
			}
			e.Attr = attr
		}
		return e, nil
	}

	var obj struct {
		Eid    string          `json:"eid"`
		Label  string          `json:"label"`
		SrcVid string          `json:"src_vid"`
		DstVid string          `json:"dst_vid"`
		Attr   json.RawMessage `json:"attr"`
	}
	if err := json.Unmarshal(msg, &obj); err != nil {
		return nil, malformed("edge %s: %v", id, err)
	}
	if obj.Eid != "" && PatternID(obj.Eid) != id {
		return nil, malformed("edge key %s does not match eid %s", id, obj.Eid)
	}
	attr, err := decodeOptionalAttr(obj.Attr)
	if err != nil {
		return nil, malformed("edge %s: %v", id, err)
	}
	return &PatternEdge{ID: id, Label: obj.Label, Src: PatternID(obj.SrcVid), Dst: PatternID(obj.DstVid), Attr: attr}, nil
}

// decodeOptionalAttr treats null, absent and {} as "no predicate".
func decodeOptionalAttr(msg json.RawMessage) (*PatternAttr, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	var a PatternAttr
	if err := json.Unmarshal(msg, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func decodeInstruction(ri instructionJSON) (Instruction, error) {
	instr := Instruction{
		Vertex:   PatternID(ri.Vid),
		Type:     InstructionType(ri.Type),
		DependOn: ri.DependOn,
	}
	if !instr.Type.valid() {
		return instr, fmt.Errorf("%w: %q", ErrUnknownInstruction, ri.Type)
	}
	for _, e := range ri.ExpandEidList {
		instr.ExpandEdges = append(instr.ExpandEdges, PatternID(e))
	}
	if ri.SingleOp != nil && strings.TrimSpace(*ri.SingleOp) != "" {
		op, err := ParseOperand(*ri.SingleOp)
		if err != nil {
			return instr, err
		}
		instr.Single = op
	}
	for _, m := range ri.MultiOps {
		op, err := ParseOperand(m)
		if err != nil {
			return instr, err
		}
		instr.Multi = append(instr.Multi, op)
	}
	if ri.TargetVar != "" {
		op, err := ParseOperand(ri.TargetVar)
		if err != nil {
			return instr, err
		}
		instr.Target = op
	}
	return instr, nil
}

// Validate checks the pattern graph and the operand shape of every
// instruction. Dataflow between variables is checked at execution time.
func (p *Plan) Validate() error {
	if len(p.Vertices) == 0 {
		return malformed("pattern has no vertices")
	}
	for id, e := range p.Edges {
		if _, ok := p.Vertices[e.Src]; !ok {
			return malformed("edge %s: src %s: %v", id, e.Src, ErrUnknownPattern)
		}
		if _, ok := p.Vertices[e.Dst]; !ok {
			return malformed("edge %s: dst %s: %v", id, e.Dst, ErrUnknownPattern)
		}
	}
	for _, id := range p.MatchingOrder {
		if _, ok := p.Vertices[id]; !ok {
			return malformed("matching order: %s: %v", id, ErrUnknownPattern)
		}
	}
	for i, instr := range p.Instructions {
		if err := p.validateInstruction(instr); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, instr.Type, err)
		}
	}
	return nil
}

func (p *Plan) validateInstruction(instr Instruction) error {
	needVertex := func() error {
		if _, ok := p.Vertices[instr.Vertex]; !ok {
			return malformed("vertex %q: %v", instr.Vertex, ErrUnknownPattern)
		}
		return nil
	}
	needTarget := func(kinds ...OperandKind) error {
		for _, k := range kinds {
			if instr.Target.Kind == k {
				return nil
			}
		}
		return malformed("target %s has the wrong kind", instr.Target)
	}

	switch instr.Type {
	case InstrInit:
		if err := needVertex(); err != nil {
			return err
		}
		return needTarget(OperandEnumTarget)
	case InstrGetAdj:
		if err := needVertex(); err != nil {
			return err
		}
		if instr.Single.Kind != OperandEnumTarget {
			return malformed("get_adj needs an f operand, got %s", instr.Single)
		}
		for _, eid := range instr.ExpandEdges {
			e, ok := p.Edges[eid]
			if !ok {
				return malformed("expand edge %q: %v", eid, ErrUnknownPattern)
			}
			if e.Src != instr.Vertex && e.Dst != instr.Vertex {
				return malformed("expand edge %s does not touch %s", eid, instr.Vertex)
			}
		}
		return needTarget(OperandDBQueryTarget)
	case InstrIntersect:
		if err := needVertex(); err != nil {
			return err
		}
		if len(instr.Multi) >= 2 {
			for _, op := range instr.Multi {
				if op.Kind != OperandDBQueryTarget && op.Kind != OperandIntersectTarget {
					return malformed("multi operand %s must be an A or T variable", op)
				}
			}
			return needTarget(OperandIntersectTarget)
		}
		switch instr.PrimaryOperand().Kind {
		case OperandDataVertexSet, OperandDBQueryTarget, OperandIntersectTarget:
		default:
			return malformed("intersect needs a V, A or T operand, got %s", instr.PrimaryOperand())
		}
		return needTarget(OperandCandidate)
	case InstrForeach:
		if instr.Single.Kind != OperandCandidate {
			return malformed("foreach needs a C operand, got %s", instr.Single)
		}
		return needTarget(OperandEnumTarget)
	case InstrTCache, InstrReport:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownInstruction, instr.Type)
}

// VertexIDs returns the pattern vertex ids, sorted.
func (p *Plan) VertexIDs() []PatternID {
	out := make([]PatternID, 0, len(p.Vertices))
	for id := range p.Vertices {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EdgeIDs returns the pattern edge ids, sorted.
func (p *Plan) EdgeIDs() []PatternID {
	out := make([]PatternID, 0, len(p.Edges))
	for id := range p.Edges {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the plan in the object form accepted by ParsePlan.
func (p *Plan) MarshalJSON() ([]byte, error) {
	out := struct {
		MatchingOrder []PatternID                  `json:"matching_order"`
		Vertices      map[PatternID]*PatternVertex `json:"vertices"`
		Edges         map[PatternID]*PatternEdge   `json:"edges"`
		Instructions  []instructionJSON            `json:"instructions"`
	}{
		MatchingOrder: p.MatchingOrder,
		Vertices:      p.Vertices,
		Edges:         p.Edges,
		Instructions:  []instructionJSON{},
	}
	if out.MatchingOrder == nil {
		out.MatchingOrder = []PatternID{}
	}
	for _, instr := range p.Instructions {
		ij := instructionJSON{
			Vid:           string(instr.Vertex),
			Type:          string(instr.Type),
			ExpandEidList: []string{},
			MultiOps:      []string{},
			TargetVar:     instr.Target.Raw,
			DependOn:      instr.DependOn,
		}
		if ij.DependOn == nil {
			ij.DependOn = []string{}
		}
		for _, e := range instr.ExpandEdges {
			ij.ExpandEidList = append(ij.ExpandEidList, string(e))
		}
		if !instr.Single.IsZero() {
			s := instr.Single.String()
			ij.SingleOp = &s
		}
		for _, m := range instr.Multi {
			ij.MultiOps = append(ij.MultiOps, m.String())
		}
		out.Instructions = append(out.Instructions, ij)
	}
	return json.Marshal(out)
}
