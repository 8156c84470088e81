package sqlmodel

import (
	"testing"

	"github.com/queryopt/engine/internal/model"
)

func TestParse_JoinsAndPredicates(t *testing.T) {
	qm := New().Parse(`SELECT o.id, c.name FROM orders o JOIN customers c ON o.customer_id = c.id WHERE o.status = 'paid' AND o.created_at >= '2024-01-01' LIMIT 10`)

	if qm.ParseError != "" {
		t.Fatalf("unexpected parse error: %s", qm.ParseError)
	}
	if len(qm.Relations) != 2 {
		t.Fatalf("expected 2 relations, got %+v", qm.Relations)
	}
	if len(qm.Joins) != 1 || qm.Joins[0].Right != "c" {
		t.Fatalf("expected one join on c, got %+v", qm.Joins)
	}
	if len(qm.EqualityPredicates) != 1 || qm.EqualityPredicates[0].Column != "status" {
		t.Fatalf("expected one equality predicate on status, got %+v", qm.EqualityPredicates)
	}
	if len(qm.RangePredicates) != 1 {
		t.Fatalf("expected one range predicate, got %+v", qm.RangePredicates)
	}
	if qm.Limit == nil || *qm.Limit != 10 {
		t.Fatalf("expected limit 10, got %v", qm.Limit)
	}
}

func TestParse_OrChainBecomesOrEqualityGroup(t *testing.T) {
	qm := New().Parse(`SELECT id FROM orders WHERE status = 'new' OR status = 'paid' OR status = 'shipped'`)

	if len(qm.OrEqualityColumns) != 1 {
		t.Fatalf("expected one or-equality group, got %+v", qm.OrEqualityColumns)
	}
	if qm.OrEqualityColumns[0].Column != "status" || qm.OrEqualityColumns[0].Count != 3 {
		t.Fatalf("expected status count 3, got %+v", qm.OrEqualityColumns[0])
	}
}

func TestParse_LeadingWildcardLike(t *testing.T) {
	qm := New().Parse(`SELECT id FROM customers WHERE name LIKE '%smith'`)

	if len(qm.LikePredicates) != 1 {
		t.Fatalf("expected one like predicate, got %+v", qm.LikePredicates)
	}
	if !qm.LikePredicates[0].LeadingWildcard {
		t.Fatalf("expected leading wildcard to be detected")
	}
}

func TestParse_CountStarVsCountColumn(t *testing.T) {
	qm := New().Parse(`SELECT COUNT(id) FROM orders`)

	if len(qm.Aggregates) != 1 {
		t.Fatalf("expected one aggregate, got %+v", qm.Aggregates)
	}
	if qm.Aggregates[0].IsStar {
		t.Fatalf("expected COUNT(id) not to be classified as star")
	}
	if qm.Aggregates[0].Column != "id" {
		t.Fatalf("expected aggregate column id, got %q", qm.Aggregates[0].Column)
	}
}

func TestParse_DecimalLiteralEquality(t *testing.T) {
	qm := New().Parse(`SELECT id FROM orders WHERE price_amount = 19.99`)

	if qm.ParseError != "" {
		t.Fatalf("unexpected parse error: %s", qm.ParseError)
	}
	if len(qm.EqualityPredicates) != 1 {
		t.Fatalf("expected one equality predicate, got %+v", qm.EqualityPredicates)
	}
	if qm.EqualityPredicates[0].Literal != model.LiteralDecimal {
		t.Fatalf("expected a decimal literal, got %v", qm.EqualityPredicates[0].Literal)
	}
}

func TestParse_UnparsableFallsBackToRegex(t *testing.T) {
	qm := New().Parse(`SELECT * FROM orders WHERE /* unterminated`)

	if qm.ParseError == "" {
		t.Fatalf("expected a parse error recorded for unparsable input")
	}
	if qm.StatementKind.String() != "OTHER" {
		t.Fatalf("expected statement kind OTHER, got %s", qm.StatementKind)
	}
}
