package indexadvisor

import (
	"testing"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/model"
)

func baseSchema() *model.SchemaSnapshot {
	return &model.SchemaSnapshot{
		RowEstimate: map[model.Ident]int64{"orders": 1_000_000},
		Tables: map[model.Ident]model.TableSchema{
			"orders": {
				Columns: []model.ColumnDef{
					{Name: "id", Kind: model.KindBigint},
					{Name: "status", Kind: model.KindText},
					{Name: "created_at", Kind: model.KindTimestamp},
				},
			},
		},
	}
}

func TestRun_SuggestsIndexForEqualityAndOrder(t *testing.T) {
	qm := &model.QueryModel{
		StatementKind:      model.StatementSelect,
		Relations:          []model.Relation{{Name: "orders"}},
		EqualityPredicates: []model.EqualityPredicate{{Relation: "orders", Column: "status"}},
		OrderKeys:          []model.OrderKey{{Relation: "orders", Column: "created_at", Direction: model.Desc}},
		Limit:              ptr(10),
	}

	out := Run(qm, baseSchema(), config.Default())
	if len(out) != 1 {
		t.Fatalf("expected one suggestion, got %+v", out)
	}
	s := out[0]
	if s.Impact != model.ImpactHigh {
		t.Fatalf("expected high impact with equality+order hit, got %v", s.Impact)
	}
	if len(s.Directions) == 0 || s.Directions[len(s.Directions)-1] != model.Desc {
		t.Fatalf("expected a non-default direction vector ending in DESC, got %+v", s.Directions)
	}
}

func TestRun_SkipsSmallTable(t *testing.T) {
	schema := baseSchema()
	schema.RowEstimate["orders"] = 100

	qm := &model.QueryModel{
		StatementKind:      model.StatementSelect,
		Relations:          []model.Relation{{Name: "orders"}},
		EqualityPredicates: []model.EqualityPredicate{{Relation: "orders", Column: "status"}},
	}

	if out := Run(qm, schema, config.Default()); len(out) != 0 {
		t.Fatalf("expected no suggestions for a small table, got %+v", out)
	}
}

func TestRun_SkipsWhenExistingIndexCoversPrefix(t *testing.T) {
	schema := baseSchema()
	table := schema.Tables["orders"]
	table.Indexes = []model.IndexDef{{Name: "orders_status_idx", Columns: []model.Ident{"status"}}}
	schema.Tables["orders"] = table

	qm := &model.QueryModel{
		StatementKind:      model.StatementSelect,
		Relations:          []model.Relation{{Name: "orders"}},
		EqualityPredicates: []model.EqualityPredicate{{Relation: "orders", Column: "status"}},
	}

	if out := Run(qm, schema, config.Default()); len(out) != 0 {
		t.Fatalf("expected no suggestions when an existing index already covers the prefix, got %+v", out)
	}
}

func ptr(v int64) *int64 { return &v }
