// Package plan implements the Plan Inspector (§4.4): a pure function of a
// PlanTree that emits ordered warnings plus a small metrics object. It never
// talks to the database; the tree comes from the gateway's Explain call.
package plan

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/queryopt/engine/internal/model"
	"github.com/queryopt/engine/internal/numeric"
)

const largeRowThreshold = 100_000

// Level mirrors the plan inspector's single warning severity.
type Level string

const WarnLevel Level = "warn"

// Warning is one plan-inspector finding.
type Warning struct {
	Code   string `json:"code"`
	Level  Level  `json:"level"`
	Detail string `json:"detail"`
}

// Metrics is the §4.4 metrics object.
type Metrics struct {
	PlanningTimeMs  float64 `json:"planning_time_ms"`
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	NodeCount       int     `json:"node_count"`
}

// Result bundles the plan inspector's warnings and metrics. Per-node
// warnings come first, in node pre-order and then by code; NO_INDEX_FILTER
// (one per table, after the whole tree is walked) and PARALLEL_OFF follow
// them, in that order, rather than sitting at their node's position.
type Result struct {
	Warnings []Warning `json:"warnings"`
	Metrics  Metrics   `json:"metrics"`

	// LargeScanRelations lists, in first-seen order, the relations that
	// triggered SEQ_SCAN_LARGE — callers aggregating across queries (the
	// workload aggregator's shared-large-scan pattern) use this instead of
	// parsing Warning.Detail text.
	LargeScanRelations []model.Ident `json:"large_scan_relations,omitempty"`
}

// Inspect evaluates every §4.4 rule over tree.
func Inspect(tree *model.PlanTree) Result {
	if tree == nil || tree.Root == nil {
		return Result{}
	}

	var perNode []Warning
	seqScanTables := map[model.Ident]bool{}
	indexScanTables := map[model.Ident]bool{}
	var seqScanOrder []model.Ident
	largeScanSeen := map[model.Ident]bool{}
	var largeScanOrder []model.Ident

	tree.Walk(func(n *model.PlanNode, depth int) {
		var codes []Warning

		if n.IsSeqScan() {
			rows := n.PlanRows
			if n.ActualRows != nil {
				rows = *n.ActualRows
			}
			if rows >= largeRowThreshold {
				codes = append(codes, Warning{
					Code:   "SEQ_SCAN_LARGE",
					Level:  WarnLevel,
					Detail: fmt.Sprintf("Sequential scan on %s with %.0f rows", nodeRelation(n), rows),
				})
				if n.Relation != "" && !largeScanSeen[n.Relation] {
					largeScanSeen[n.Relation] = true
					largeScanOrder = append(largeScanOrder, n.Relation)
				}
			}
			if n.Filter != "" && n.Relation != "" && rows >= largeRowThreshold {
				if !seqScanTables[n.Relation] {
					seqScanOrder = append(seqScanOrder, n.Relation)
				}
				seqScanTables[n.Relation] = true
			}
		} else if strings.Contains(n.NodeType, "Index Scan") && n.Relation != "" {
			indexScanTables[n.Relation] = true
		}

		sortMethod := strings.ToLower(n.SortMethod)
		if sortMethod != "" && (strings.Contains(sortMethod, "disk") || strings.Contains(sortMethod, "external")) {
			codes = append(codes, Warning{
				Code:   "SORT_SPILL",
				Level:  WarnLevel,
				Detail: fmt.Sprintf("Sort spilled to disk using %s", n.SortMethod),
			})
		}

		if n.ActualRows != nil {
			denom := math.Max(n.PlanRows, 1)
			errRatio := math.Abs(*n.ActualRows-n.PlanRows) / denom
			if errRatio > 0.5 {
				codes = append(codes, Warning{
					Code:  "ESTIMATE_MISMATCH",
					Level: WarnLevel,
					Detail: fmt.Sprintf("Row estimate error in %s: expected %.0f, got %.0f (%.1f%% error)",
						n.NodeType, n.PlanRows, *n.ActualRows, errRatio*100),
				})
			}
		}

		if n.IsNestedLoop() && len(n.Children) >= 2 && n.Children[1].IsSeqScan() {
			inner := n.Children[1]
			codes = append(codes, Warning{
				Code:   "NESTED_LOOP_SEQ_INNER",
				Level:  WarnLevel,
				Detail: fmt.Sprintf("Nested loop joins with sequential scan inner side on %s", nodeRelation(inner)),
			})
		}

		sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
		perNode = append(perNode, codes...)
	})

	for _, table := range seqScanOrder {
		if !indexScanTables[table] {
			perNode = append(perNode, Warning{
				Code:   "NO_INDEX_FILTER",
				Level:  WarnLevel,
				Detail: fmt.Sprintf("Table %s has Filter clause but no Index Scan alternatives", table),
			})
		}
	}

	if root := tree.Root; root != nil {
		rows := root.PlanRows
		if root.ActualRows != nil {
			rows = *root.ActualRows
		}
		if rows > largeRowThreshold && !hasGather(tree) {
			perNode = append(perNode, Warning{
				Code:   "PARALLEL_OFF",
				Level:  WarnLevel,
				Detail: fmt.Sprintf("Query processes %.0f rows but uses no parallel nodes", rows),
			})
		}
	}

	return Result{
		Warnings: perNode,
		Metrics: Metrics{
			PlanningTimeMs:  numeric.Round3(tree.PlanningTimeMs),
			ExecutionTimeMs: numeric.Round3(tree.ExecutionTimeMs),
			NodeCount:       tree.NodeCount(),
		},
		LargeScanRelations: largeScanOrder,
	}
}

func hasGather(tree *model.PlanTree) bool {
	found := false
	tree.Walk(func(n *model.PlanNode, _ int) {
		if n.IsGather() {
			found = true
		}
	})
	return found
}

func nodeRelation(n *model.PlanNode) string {
	if n.Relation != "" {
		return string(n.Relation)
	}
	return "table"
}
