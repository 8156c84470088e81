package gateway

import "testing"

const samplePlanJSON = `[
  {
    "Plan": {
      "Node Type": "Seq Scan",
      "Relation Name": "orders",
      "Alias": "orders",
      "Startup Cost": 0.00,
      "Total Cost": 1910.68,
      "Plan Rows": 2500000,
      "Plan Width": 40,
      "Actual Rows": 2498123,
      "Actual Loops": 1,
      "Filter": "(user_id = 42)"
    },
    "Planning Time": 0.123,
    "Execution Time": 456.789
  }
]`

func TestDecodePlanJSON(t *testing.T) {
	tree, err := decodePlanJSON([]byte(samplePlanJSON))
	if err != nil {
		t.Fatalf("decodePlanJSON: %v", err)
	}
	if tree.Root.NodeType != "Seq Scan" {
		t.Fatalf("expected Seq Scan, got %s", tree.Root.NodeType)
	}
	if tree.Root.Relation != "orders" {
		t.Fatalf("expected orders, got %s", tree.Root.Relation)
	}
	if tree.Root.ActualRows == nil || *tree.Root.ActualRows != 2498123 {
		t.Fatalf("expected actual rows 2498123, got %v", tree.Root.ActualRows)
	}
	if tree.PlanningTimeMs != 0.123 {
		t.Fatalf("expected planning time 0.123, got %v", tree.PlanningTimeMs)
	}
}

func TestDecodePlanJSON_NoAnalyze(t *testing.T) {
	const costsOnly = `[{"Plan": {"Node Type": "Seq Scan", "Total Cost": 10.0, "Plan Rows": 5}}]`
	tree, err := decodePlanJSON([]byte(costsOnly))
	if err != nil {
		t.Fatalf("decodePlanJSON: %v", err)
	}
	if tree.Root.ActualRows != nil {
		t.Fatalf("expected nil ActualRows without ANALYZE")
	}
}

func TestErrorIs(t *testing.T) {
	err := &Error{Kind: KindTimeout, Op: "explain"}
	if !errorIs(err, ErrTimeout) {
		t.Fatalf("expected err to match ErrTimeout")
	}
	if errorIs(err, ErrSyntax) {
		t.Fatalf("did not expect err to match ErrSyntax")
	}
}

func errorIs(err error, target error) bool {
	type isser interface{ Is(error) bool }
	i, ok := err.(isser)
	return ok && i.Is(target)
}
