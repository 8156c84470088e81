package model

// PlanNode is one operator in a PostgreSQL EXPLAIN plan tree. Field names
// follow the EXPLAIN (FORMAT JSON) vocabulary the way the teacher's decoder
// preserved it, trimmed to what the plan inspector and what-if evaluator
// actually consume.
type PlanNode struct {
	NodeType    string  `json:"op"`
	Relation    Ident   `json:"relation,omitempty"` // empty for non-scan nodes
	Alias       Ident   `json:"alias,omitempty"`
	ColumnsUsed []Ident `json:"columns_used,omitempty"`

	StartupCost float64 `json:"startup_cost"`
	TotalCost   float64 `json:"total_cost"`
	PlanRows    float64 `json:"plan_rows"`
	PlanWidth   float64 `json:"plan_width"`

	ActualRows  *float64 `json:"actual_rows,omitempty"` // nil when EXPLAIN ran without ANALYZE
	ActualLoops float64  `json:"actual_loops,omitempty"`

	SortMethod string `json:"sort_method,omitempty"` // "" when not a Sort node, else e.g. "quicksort" / "external merge"
	Filter     string `json:"filter,omitempty"`      // raw filter expression text, "" when absent
	JoinType   string `json:"join_type,omitempty"`   // "" when not a join node

	Children []*PlanNode `json:"children,omitempty"`
}

// IsSeqScan reports whether this node is a sequential scan.
func (n *PlanNode) IsSeqScan() bool {
	return n != nil && n.NodeType == "Seq Scan"
}

// IsNestedLoop reports whether this node is a nested loop join.
func (n *PlanNode) IsNestedLoop() bool {
	return n != nil && n.NodeType == "Nested Loop"
}

// IsGather reports whether this node introduces parallelism.
func (n *PlanNode) IsGather() bool {
	return n != nil && (n.NodeType == "Gather" || n.NodeType == "Gather Merge")
}

// PlanTree is the result of one EXPLAIN call.
type PlanTree struct {
	Root            *PlanNode `json:"root"`
	PlanningTimeMs  float64   `json:"planning_time_ms"`
	ExecutionTimeMs float64   `json:"execution_time_ms"` // 0 when the EXPLAIN did not ANALYZE
}

// TotalCost returns the root node's total cost, or 0 for an empty tree —
// the quantity the what-if evaluator compares before/after a trial.
func (t *PlanTree) TotalCost() float64 {
	if t == nil || t.Root == nil {
		return 0
	}
	return t.Root.TotalCost
}

// Walk visits every node of the tree in pre-order (node, then children
// left to right), matching the node-then-children ordering the plan
// inspector's warnings are sorted by.
func (t *PlanTree) Walk(visit func(node *PlanNode, depth int)) {
	if t == nil || t.Root == nil {
		return
	}
	var walk func(n *PlanNode, depth int)
	walk = func(n *PlanNode, depth int) {
		visit(n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(t.Root, 0)
}

// NodeCount returns the number of nodes in the tree.
func (t *PlanTree) NodeCount() int {
	count := 0
	t.Walk(func(*PlanNode, int) { count++ })
	return count
}
