package rewrite

import (
	"testing"

	"github.com/queryopt/engine/internal/model"
)

func hasTitle(suggestions []model.Suggestion, title string) bool {
	for _, s := range suggestions {
		if s.Title == title {
			return true
		}
	}
	return false
}

func TestRun_ExplicitProjection(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "orders"}},
		Projections:   []model.ColumnRef{{Star: true}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Replace SELECT * with explicit columns") {
		t.Fatalf("expected explicit projection suggestion, got %+v", out)
	}
}

func TestRun_OpaqueProjectionSuppressesExplicitRule(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind:    model.StatementSelect,
		Relations:        []model.Relation{{Name: "orders"}},
		Projections:      []model.ColumnRef{{Star: true}},
		OpaqueProjection: true,
	}

	out := Run(qm, nil)
	if hasTitle(out, "Replace SELECT * with explicit columns") {
		t.Fatalf("expected no explicit projection suggestion when projection is opaque")
	}
}

func TestRun_OrChainToIn(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind:     model.StatementSelect,
		OrEqualityColumns: []model.OrEqualityGroup{{Relation: "orders", Column: "status", Count: 3}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Replace OR-chain on status with IN") {
		t.Fatalf("expected or-chain suggestion, got %+v", out)
	}
}

func TestRun_ImplicitJoin(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Joins:         []model.Join{{Kind: model.JoinImplicitComma, Right: "c"}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Replace implicit comma-join with explicit JOIN") {
		t.Fatalf("expected implicit join suggestion, got %+v", out)
	}
}

func TestRun_CountColToCountStarNeedsNotNullColumn(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "orders"}},
		Aggregates:    []model.Aggregate{{Function: "COUNT", Relation: "orders", Column: "id"}},
	}
	schema := &model.SchemaSnapshot{
		Tables: map[model.Ident]model.TableSchema{
			"orders": {Columns: []model.ColumnDef{{Name: "id", Nullable: false}}},
		},
	}

	out := Run(qm, schema)
	if !hasTitle(out, "Replace COUNT(id) with COUNT(*)") {
		t.Fatalf("expected count-star suggestion, got %+v", out)
	}

	nullableSchema := &model.SchemaSnapshot{
		Tables: map[model.Ident]model.TableSchema{
			"orders": {Columns: []model.ColumnDef{{Name: "id", Nullable: true}}},
		},
	}
	out = Run(qm, nullableSchema)
	if hasTitle(out, "Replace COUNT(id) with COUNT(*)") {
		t.Fatalf("expected no count-star suggestion for a nullable column")
	}
}

func TestRun_DistinctWithMatchingGroupBy(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Distinct:      true,
		Projections:   []model.ColumnRef{{Relation: "orders", Column: "status"}},
		GroupKeys:     []model.GroupKey{{Relation: "orders", Column: "status"}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Drop redundant DISTINCT") {
		t.Fatalf("expected redundant distinct suggestion, got %+v", out)
	}
}

func TestRun_InSubqueryToExists(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Subqueries:    []model.SubqueryRef{{Location: model.SubqueryWhereIn, Correlated: false}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Consider EXISTS instead of IN (subquery)") {
		t.Fatalf("expected in-to-exists suggestion, got %+v", out)
	}
}

func TestRun_DecorrelateExists(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Subqueries:    []model.SubqueryRef{{Location: model.SubqueryWhereExists, Correlated: true}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Consider de-correlating the EXISTS subquery") {
		t.Fatalf("expected decorrelate-exists suggestion, got %+v", out)
	}
}

func TestRun_TopNAlignment(t *testing.T) {
	limit := int64(10)
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "orders"}},
		OrderKeys:     []model.OrderKey{{Relation: "orders", Column: "created_at", Direction: model.Desc}},
		Limit:         &limit,
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Align ORDER BY with an index to support Top-N") {
		t.Fatalf("expected top-n alignment suggestion, got %+v", out)
	}
}

func TestRun_TopNAlignmentSuppressedWhenIndexCovers(t *testing.T) {
	limit := int64(10)
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "orders"}},
		OrderKeys:     []model.OrderKey{{Relation: "orders", Column: "created_at", Direction: model.Desc}},
		Limit:         &limit,
	}
	schema := &model.SchemaSnapshot{
		Tables: map[model.Ident]model.TableSchema{
			"orders": {Indexes: []model.IndexDef{{Name: "orders_created_at_idx", Columns: []model.Ident{"created_at"}}}},
		},
	}

	out := Run(qm, schema)
	if hasTitle(out, "Align ORDER BY with an index to support Top-N") {
		t.Fatalf("expected no top-n suggestion when an index already covers the order-by, got %+v", out)
	}
}

func TestRun_PredicatePushdownFromAggregatingSubquery(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "agg", Alias: "agg"}},
		Subqueries: []model.SubqueryRef{
			{Location: model.SubqueryFrom, Relation: "agg", GroupByColumns: []model.Ident{"category"}},
		},
		EqualityPredicates: []model.EqualityPredicate{{Relation: "agg", Column: "category", Literal: model.LiteralText}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Push filters below GROUP BY/CTEs when safe") {
		t.Fatalf("expected predicate pushdown suggestion, got %+v", out)
	}
}

func TestRun_PredicatePushdownIgnoresFlatGroupBy(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind:      model.StatementSelect,
		Relations:          []model.Relation{{Name: "orders"}},
		GroupKeys:          []model.GroupKey{{Relation: "orders", Column: "category"}},
		EqualityPredicates: []model.EqualityPredicate{{Relation: "orders", Column: "category", Literal: model.LiteralText}},
	}

	out := Run(qm, nil)
	if hasTitle(out, "Push filters below GROUP BY/CTEs when safe") {
		t.Fatalf("expected no pushdown suggestion for a flat query with no FROM-subquery, got %+v", out)
	}
}

func TestRun_PredicatePushdownIgnoresPredicateOutsideGroupingKeys(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Relations:     []model.Relation{{Name: "agg", Alias: "agg"}},
		Subqueries: []model.SubqueryRef{
			{Location: model.SubqueryFrom, Relation: "agg", GroupByColumns: []model.Ident{"category"}},
		},
		EqualityPredicates: []model.EqualityPredicate{{Relation: "agg", Column: "total", Literal: model.LiteralInteger}},
	}

	out := Run(qm, nil)
	if hasTitle(out, "Push filters below GROUP BY/CTEs when safe") {
		t.Fatalf("expected no suggestion when the predicate touches a non-grouping column, got %+v", out)
	}
}

func TestRun_UnionToUnionAll(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Unions:        []model.UnionBranch{{All: false}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Consider UNION ALL instead of UNION, if branches cannot overlap") {
		t.Fatalf("expected union-to-union-all suggestion, got %+v", out)
	}
}

func TestRun_NotInToNotExists(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		Subqueries:    []model.SubqueryRef{{Location: model.SubqueryWhereNotIn}},
	}

	out := Run(qm, nil)
	if !hasTitle(out, "Replace NOT IN (subquery) with NOT EXISTS") {
		t.Fatalf("expected not-in-to-not-exists suggestion, got %+v", out)
	}
}

func TestRun_LikeLeadingWildcardOnIndexedColumn(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind:  model.StatementSelect,
		Relations:      []model.Relation{{Name: "customers"}},
		LikePredicates: []model.LikePredicate{{Relation: "customers", Column: "name", LeadingWildcard: true}},
	}
	schema := &model.SchemaSnapshot{
		Tables: map[model.Ident]model.TableSchema{
			"customers": {Indexes: []model.IndexDef{{Name: "customers_name_idx", Columns: []model.Ident{"name"}}}},
		},
	}

	out := Run(qm, schema)
	if !hasTitle(out, "Avoid leading wildcard LIKE on indexed column name") {
		t.Fatalf("expected leading-wildcard suggestion, got %+v", out)
	}

	if out := Run(qm, nil); hasTitle(out, "Avoid leading wildcard LIKE on indexed column name") {
		t.Fatalf("expected no suggestion without schema evidence the column is indexed, got %+v", out)
	}
}

func TestRun_NonSelectYieldsNoSuggestions(t *testing.T) {
	qm := &model.QueryModel{StatementKind: model.StatementOther}
	if out := Run(qm, nil); len(out) != 0 {
		t.Fatalf("expected no suggestions for a non-SELECT statement, got %+v", out)
	}
}
