package lint

import (
	"testing"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/model"
)

func hasCode(issues []Issue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func TestRun_CartesianJoin(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations: []model.Relation{
			{Name: "a"},
			{Name: "b"},
		},
		Projections: []model.ColumnRef{
			{Relation: "a", Column: "id"},
			{Relation: "b", Column: "id"},
		},
		Joins: []model.Join{
			{Kind: model.JoinImplicitComma, Right: "b"},
		},
		EqualityPredicates: []model.EqualityPredicate{
			{Relation: "a", Column: "x", Literal: model.LiteralInteger},
		},
	}

	res := Run(qm, config.Default())

	if !hasCode(res.Issues, "CARTESIAN_JOIN") {
		t.Fatalf("expected CARTESIAN_JOIN, got %+v", res.Issues)
	}
	if res.Risk != RiskHigh {
		t.Fatalf("expected high risk, got %s", res.Risk)
	}
}

func TestRun_SelectStarSuppressesUnusedJoinedTable(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations: []model.Relation{
			{Name: "orders", Alias: "o"},
			{Name: "customers", Alias: "c"},
		},
		Projections: []model.ColumnRef{{Star: true}},
		Joins: []model.Join{
			{Kind: model.JoinInner, Right: "c", OnColumns: []model.ColumnPair{
				{Relation: "o", Column: "customer_id"},
				{Relation: "c", Column: "id"},
			}},
		},
	}

	res := Run(qm, config.Default())

	if hasCode(res.Issues, "UNUSED_JOINED_TABLE") {
		t.Fatalf("SELECT * should suppress UNUSED_JOINED_TABLE, got %+v", res.Issues)
	}
	if !hasCode(res.Issues, "SELECT_STAR") {
		t.Fatalf("expected SELECT_STAR")
	}
}

func TestRun_UnfilteredLargeTable(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "app_events"}},
		Projections:   []model.ColumnRef{{Relation: "app_events", Column: "id"}},
	}

	res := Run(qm, config.Default())

	if !hasCode(res.Issues, "UNFILTERED_LARGE_TABLE") {
		t.Fatalf("expected UNFILTERED_LARGE_TABLE, got %+v", res.Issues)
	}
}

func TestRun_ParseErrorIsHighRiskAndShortCircuits(t *testing.T) {
	qm := &model.QueryModel{StatementKind: model.StatementOther, ParseError: "boom"}

	res := Run(qm, config.Default())

	if len(res.Issues) != 1 || res.Issues[0].Code != "PARSE_ERROR" {
		t.Fatalf("expected single PARSE_ERROR issue, got %+v", res.Issues)
	}
	if res.Risk != RiskHigh {
		t.Fatalf("expected high risk, got %s", res.Risk)
	}
}
