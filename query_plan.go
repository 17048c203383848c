package graphmatch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Query Plan: the instruction dataflow rendered as a tree, returned by
// Explain and Profile.
// ---------------------------------------------------------------------------

// PlanNode is one instruction in the dataflow tree. Children are the
// instructions that produced the variables it reads.
type PlanNode struct {
	Index       int             // position in the instruction list
	Type        InstructionType // instruction kind
	Details     string          // human-readable detail, e.g. "u2 A^u1 -> C^u2"
	ActualRows  int             // bucket size written (Profile only)
	ElapsedTime time.Duration   // time in this instruction (Profile only)
	Shared      bool            // already printed elsewhere in the tree
	Children    []*PlanNode
}

// QueryPlan is returned by Explain and Profile.
type QueryPlan struct {
	Root    *PlanNode
	Profile bool
	Matches []*DynSubgraph // non-nil only for Profile
}

// String returns a multi-line rendering of the plan.
func (qp *QueryPlan) String() string {
	var sb strings.Builder
	if qp.Profile {
		sb.WriteString("PROFILE:\n")
	} else {
		sb.WriteString("EXPLAIN:\n")
	}
	if qp.Root != nil {
		qp.Root.format(&sb, "", true)
	}
	return sb.String()
}

func (n *PlanNode) format(sb *strings.Builder, prefix string, isLast bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	if prefix == "" {
		connector = ""
	}

	sb.WriteString(prefix)
	sb.WriteString(connector)
	sb.WriteString(string(n.Type))
	if n.Details != "" {
		sb.WriteString(" (")
		sb.WriteString(n.Details)
		sb.WriteString(")")
	}
	if n.Shared {
		sb.WriteString(" [see above]\n")
		return
	}
	if n.ActualRows > 0 || n.ElapsedTime > 0 {
		sb.WriteString(fmt.Sprintf(" [rows=%d, time=%s]", n.ActualRows, n.ElapsedTime.Round(time.Microsecond)))
	}
	sb.WriteString("\n")

	childPrefix := prefix
	if prefix != "" {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	} else {
		childPrefix = " "
	}
	for i, child := range n.Children {
		child.format(sb, childPrefix, i == len(n.Children)-1)
	}
}

// Explain builds the dataflow tree of p without executing it.
func (p *Plan) Explain() *QueryPlan {
	return &QueryPlan{Root: buildPlanTree(p, nil)}
}

// Profile executes the plan and returns the dataflow tree annotated with
// per-instruction bucket sizes and timings, plus the final matches.
func (e *Engine) Profile(ctx context.Context) (*QueryPlan, error) {
	start := time.Now()
	var stats []InstructionStats
	matches, err := safeExecuteResult(func() ([]*DynSubgraph, error) {
		groups, st, err := e.run(ctx)
		stats = st
		if err != nil {
			return nil, err
		}
		return e.join(ctx, groups)
	})
	e.finish(start, len(matches), stats, err)
	if err != nil {
		return nil, err
	}
	return &QueryPlan{Root: buildPlanTree(e.plan, stats), Profile: true, Matches: matches}, nil
}

// buildPlanTree links every instruction to the producers of the variables
// it reads. The last instruction is the root; a producer read by several
// consumers is expanded once and marked shared afterwards.
func buildPlanTree(p *Plan, stats []InstructionStats) *PlanNode {
	if len(p.Instructions) == 0 {
		return nil
	}

	producer := make(map[string]int)
	reads := make([][]int, len(p.Instructions))
	consumed := make(map[int]bool)
	for i, instr := range p.Instructions {
		for _, op := range instructionInputs(instr) {
			if j, ok := producer[variableKey(op)]; ok {
				reads[i] = append(reads[i], j)
				consumed[j] = true
			}
		}
		if !instr.Target.IsZero() {
			producer[variableKey(instr.Target)] = i
		}
	}

	// Report reads every F-bucket still alive, i.e. every unconsumed producer.
	last := len(p.Instructions) - 1
	if p.Instructions[last].Type == InstrReport {
		reads[last] = nil
		for j := 0; j < last; j++ {
			if !consumed[j] && p.Instructions[j].Target.Kind == OperandEnumTarget {
				reads[last] = append(reads[last], j)
			}
		}
	}

	printed := make(map[int]bool)
	var build func(i int) *PlanNode
	build = func(i int) *PlanNode {
		instr := p.Instructions[i]
		n := &PlanNode{Index: i, Type: instr.Type, Details: instructionDetails(instr)}
		if i < len(stats) {
			n.ActualRows = stats[i].Produced
			n.ElapsedTime = stats[i].Duration
		}
		if printed[i] {
			n.Shared = true
			return n
		}
		printed[i] = true
		for _, j := range reads[i] {
			n.Children = append(n.Children, build(j))
		}
		return n
	}
	return build(last)
}

func variableKey(op Operand) string {
	return op.Kind.String() + varSeparator + string(op.Key)
}

func instructionInputs(instr Instruction) []Operand {
	var ops []Operand
	if !instr.Single.IsZero() {
		ops = append(ops, instr.Single)
	}
	ops = append(ops, instr.Multi...)
	return ops
}

func instructionDetails(instr Instruction) string {
	var parts []string
	if instr.Vertex != "" {
		parts = append(parts, string(instr.Vertex))
	}
	var in []string
	for _, op := range instructionInputs(instr) {
		in = append(in, op.String())
	}
	if len(in) > 0 {
		parts = append(parts, strings.Join(in, ","))
	}
	if len(instr.ExpandEdges) > 0 {
		es := make([]string, len(instr.ExpandEdges))
		for i, e := range instr.ExpandEdges {
			es[i] = string(e)
		}
		parts = append(parts, "["+strings.Join(es, ",")+"]")
	}
	if !instr.Target.IsZero() {
		parts = append(parts, "-> "+instr.Target.String())
	}
	return strings.Join(parts, " ")
}
