// Package rewrite implements the Rewrite Advisor (§4.5): a fixed, ordered
// catalog of pure predicates over a QueryModel (and, where the rule needs
// catalog facts, a SchemaSnapshot) that each produce zero or one Suggestion.
// Rule identity is the rule's position in the catalog, so output order is
// stable for identical input without a separate sort pass.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/queryopt/engine/internal/model"
)

type ruleFunc func(qm *model.QueryModel, schema *model.SchemaSnapshot) (model.Suggestion, bool)

// rules holds the catalog in the order spec'd for output tie-breaking.
var rules = []ruleFunc{
	explicitProjection,
	inSubqueryToExists,
	decorrelateExists,
	topNAlignment,
	predicatePushdown,
	unionToUnionAll,
	orChainToIn,
	notInToNotExists,
	likeLeadingWildcard,
	distinctWithGroupBy,
	implicitJoinToExplicit,
	countColToCountStar,
}

// Run evaluates the catalog against qm. schema may be nil — rules whose
// trigger needs a catalog fact (NOT NULL column, indexed LIKE column) don't
// fire without one, the same degrade-rather-than-fail behavior as the rest
// of the engine; Top-N alignment, whose catalog check only suppresses it,
// still fires.
func Run(qm *model.QueryModel, schema *model.SchemaSnapshot) []model.Suggestion {
	if qm == nil || qm.StatementKind != model.StatementSelect {
		return nil
	}
	var out []model.Suggestion
	for _, rule := range rules {
		if s, ok := rule(qm, schema); ok {
			out = append(out, s)
		}
	}
	return out
}

func explicitProjection(qm *model.QueryModel, schema *model.SchemaSnapshot) (model.Suggestion, bool) {
	hasStar := false
	for _, p := range qm.Projections {
		if p.Star {
			hasStar = true
			break
		}
	}
	if !hasStar || qm.OpaqueProjection || len(qm.Relations) == 0 {
		return model.Suggestion{}, false
	}

	first := qm.Relations[0]
	cols := "<explicit columns>"
	if schema != nil {
		if table, ok := schema.Tables[first.Name]; ok && len(table.Columns) > 0 {
			names := make([]string, 0, len(table.Columns))
			for _, c := range table.Columns {
				names = append(names, string(c.Name))
			}
			cols = strings.Join(names, ", ")
		}
	}
	return model.Suggestion{
		Kind:       model.KindRewrite,
		Title:      "Replace SELECT * with explicit columns",
		Rationale:  "Explicit projections reduce I/O and improve index-only scan chances.",
		Impact:     model.ImpactLow,
		Confidence: 0.900,
		AltSQL:     fmt.Sprintf("SELECT %s FROM %s", cols, identName(first)),
	}, true
}

func inSubqueryToExists(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, sub := range qm.Subqueries {
		if sub.Location == model.SubqueryWhereIn && !sub.Correlated {
			return model.Suggestion{
				Kind:       model.KindRewrite,
				Title:      "Consider EXISTS instead of IN (subquery)",
				Rationale:  "EXISTS can short-circuit and avoid the de-duplication work an uncorrelated IN subquery implies.",
				Impact:     model.ImpactMedium,
				Confidence: 0.700,
				AltSQL:     "WHERE EXISTS (SELECT 1 FROM <subquery> WHERE <correlation>)",
			}, true
		}
	}
	return model.Suggestion{}, false
}

// decorrelateExists flags a correlated EXISTS subquery. The model does not
// descend into the subquery's own predicates, so it cannot verify the
// correlation is a plain equality — any correlated EXISTS is a candidate.
func decorrelateExists(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, sub := range qm.Subqueries {
		if sub.Location == model.SubqueryWhereExists && sub.Correlated {
			return model.Suggestion{
				Kind:       model.KindRewrite,
				Title:      "Consider de-correlating the EXISTS subquery",
				Rationale:  "Unnesting a simple correlated EXISTS into a JOIN gives the planner more join-order options.",
				Impact:     model.ImpactMedium,
				Confidence: 0.600,
				AltSQL:     "-- move the correlated filter into a JOIN condition when the two are equivalent",
			}, true
		}
	}
	return model.Suggestion{}, false
}

func topNAlignment(qm *model.QueryModel, schema *model.SchemaSnapshot) (model.Suggestion, bool) {
	if len(qm.OrderKeys) == 0 || qm.Limit == nil {
		return model.Suggestion{}, false
	}
	if indexCoversOrderKeys(qm, schema) {
		return model.Suggestion{}, false
	}
	return model.Suggestion{
		Kind:       model.KindRewrite,
		Title:      "Align ORDER BY with an index to support Top-N",
		Rationale:  "Matching order-by with an index lets the planner stop after LIMIT rows instead of sorting the full result.",
		Impact:     model.ImpactMedium,
		Confidence: 0.700,
		AltSQL:     fmt.Sprintf("-- create or reuse an index on (%s) matching the ORDER BY direction", equalityAndOrderColumnList(qm)),
	}, true
}

// predicatePushdown looks for a FROM-position subquery that aggregates on
// its own (has a GROUP BY) plus an outer predicate against that derived
// table touching only its grouping columns — the one case Postgres can't
// already handle on its own, since the filter sits outside the subquery it
// should logically run inside. A GROUP BY on the outer query itself is not
// this scenario: an ordinary flat query's own WHERE already runs before its
// own aggregation with no subquery boundary in the way.
func predicatePushdown(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, sub := range qm.Subqueries {
		if sub.Location != model.SubqueryFrom || len(sub.GroupByColumns) == 0 {
			continue
		}
		groupSet := map[model.Ident]bool{}
		for _, c := range sub.GroupByColumns {
			groupSet[c] = true
		}

		matched := 0
		safe := true
		for _, eq := range qm.EqualityPredicates {
			if eq.Relation != sub.Relation {
				continue
			}
			if !groupSet[eq.Column] {
				safe = false
				break
			}
			matched++
		}
		if safe {
			for _, r := range qm.RangePredicates {
				if r.Relation != sub.Relation {
					continue
				}
				if !groupSet[r.Column] {
					safe = false
					break
				}
				matched++
			}
		}
		if !safe || matched == 0 {
			continue
		}

		return model.Suggestion{
			Kind:       model.KindRewrite,
			Title:      "Push filters below GROUP BY/CTEs when safe",
			Rationale:  "Predicates that only touch the subquery's own grouping keys can run before aggregation, cutting the rows aggregation has to process.",
			Impact:     model.ImpactMedium,
			Confidence: 0.600,
			AltSQL:     fmt.Sprintf("-- apply the WHERE conditions on %s inside the subquery/CTE before aggregation", sub.Relation),
		}, true
	}
	return model.Suggestion{}, false
}

// unionToUnionAll flags a plain UNION for a possible switch to UNION ALL.
// The model has no per-branch projection/key data to prove branches cannot
// overlap, so this can only ever be a candidate for manual verification, not
// an unconditional rewrite: UNION ALL changes result semantics (duplicates
// survive) whenever branches can in fact overlap. Confidence and rationale
// reflect that; callers should not auto-apply AltSQL here.
func unionToUnionAll(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, u := range qm.Unions {
		if !u.All {
			return model.Suggestion{
				Kind:       model.KindRewrite,
				Title:      "Consider UNION ALL instead of UNION, if branches cannot overlap",
				Rationale:  "UNION ALL skips the duplicate-elimination sort/hash, but only preserves UNION's semantics when the branches are known never to produce overlapping rows. Verify that before switching — this advisor cannot check it from the query shape alone.",
				Impact:     model.ImpactLow,
				Confidence: 0.300,
				AltSQL:     "... UNION ALL ... -- only if branches cannot overlap",
			}, true
		}
	}
	return model.Suggestion{}, false
}

func orChainToIn(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, g := range qm.OrEqualityColumns {
		if g.Count >= 3 {
			return model.Suggestion{
				Kind:       model.KindRewrite,
				Title:      fmt.Sprintf("Replace OR-chain on %s with IN", g.Column),
				Rationale:  "An IN list is easier for the planner to match against an index than a chain of equality ORs.",
				Impact:     model.ImpactLow,
				Confidence: 0.700,
				AltSQL:     fmt.Sprintf("WHERE %s IN (...)", columnDisplay(g.Relation, g.Column)),
			}, true
		}
	}
	return model.Suggestion{}, false
}

func notInToNotExists(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, sub := range qm.Subqueries {
		if sub.Location == model.SubqueryWhereNotIn {
			return model.Suggestion{
				Kind:       model.KindRewrite,
				Title:      "Replace NOT IN (subquery) with NOT EXISTS",
				Rationale:  "NOT IN returns no rows when the subquery produces any NULL; NOT EXISTS avoids that trap and usually plans better.",
				Impact:     model.ImpactMedium,
				Confidence: 0.700,
				AltSQL:     "WHERE NOT EXISTS (SELECT 1 FROM <subquery> WHERE <correlation>)",
			}, true
		}
	}
	return model.Suggestion{}, false
}

func likeLeadingWildcard(qm *model.QueryModel, schema *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, lp := range qm.LikePredicates {
		if !lp.LeadingWildcard {
			continue
		}
		table := relationNameFor(qm, lp.Relation)
		if !columnIsIndexed(schema, table, lp.Column) {
			continue
		}
		return model.Suggestion{
			Kind:       model.KindRewrite,
			Title:      fmt.Sprintf("Avoid leading wildcard LIKE on indexed column %s", lp.Column),
			Rationale:  "A leading wildcard defeats a B-tree index and forces a full scan.",
			Impact:     model.ImpactLow,
			Confidence: 0.500,
			AltSQL:     "-- consider a trigram or full-text index, or restructure the pattern to avoid a leading wildcard",
		}, true
	}
	return model.Suggestion{}, false
}

func distinctWithGroupBy(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	if !qm.Distinct || len(qm.GroupKeys) == 0 {
		return model.Suggestion{}, false
	}
	projSet := map[model.ColumnPair]bool{}
	for _, p := range qm.Projections {
		if p.Star || p.Ambiguous {
			return model.Suggestion{}, false
		}
		projSet[model.ColumnPair{Relation: p.Relation, Column: p.Column}] = true
	}
	groupSet := map[model.ColumnPair]bool{}
	for _, g := range qm.GroupKeys {
		groupSet[model.ColumnPair{Relation: g.Relation, Column: g.Column}] = true
	}
	if len(projSet) == 0 || len(projSet) != len(groupSet) {
		return model.Suggestion{}, false
	}
	for k := range projSet {
		if !groupSet[k] {
			return model.Suggestion{}, false
		}
	}
	return model.Suggestion{
		Kind:       model.KindRewrite,
		Title:      "Drop redundant DISTINCT",
		Rationale:  "GROUP BY on the same key set already de-duplicates rows; DISTINCT adds a redundant pass.",
		Impact:     model.ImpactLow,
		Confidence: 0.700,
	}, true
}

func implicitJoinToExplicit(qm *model.QueryModel, _ *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, j := range qm.Joins {
		if j.Kind == model.JoinImplicitComma {
			return model.Suggestion{
				Kind:       model.KindRewrite,
				Title:      "Replace implicit comma-join with explicit JOIN",
				Rationale:  "Explicit JOIN syntax keeps join conditions next to the tables they apply to and avoids accidental cross joins.",
				Impact:     model.ImpactLow,
				Confidence: 0.700,
				AltSQL:     fmt.Sprintf("... JOIN %s ON ...", j.Right),
			}, true
		}
	}
	return model.Suggestion{}, false
}

func countColToCountStar(qm *model.QueryModel, schema *model.SchemaSnapshot) (model.Suggestion, bool) {
	for _, agg := range qm.Aggregates {
		if agg.IsStar || strings.ToUpper(agg.Function) != "COUNT" || agg.Column == "" {
			continue
		}
		table := relationNameFor(qm, agg.Relation)
		col, ok := schema.Column(table, agg.Column)
		if !ok || col.Nullable {
			continue
		}
		return model.Suggestion{
			Kind:       model.KindRewrite,
			Title:      fmt.Sprintf("Replace COUNT(%s) with COUNT(*)", agg.Column),
			Rationale:  "The column is NOT NULL, so COUNT(*) counts the same rows without a per-row null check.",
			Impact:     model.ImpactLow,
			Confidence: 0.700,
			AltSQL:     "SELECT COUNT(*) ...",
		}, true
	}
	return model.Suggestion{}, false
}

// --- shared helpers ---

func identName(rel model.Relation) string {
	if rel.Alias != "" {
		return string(rel.Name) + " " + string(rel.Alias)
	}
	return string(rel.Name)
}

// relationNameFor maps a RelRef (alias or bare name, as recorded on a
// predicate/aggregate) back to the underlying table name a SchemaSnapshot is
// keyed on.
func relationNameFor(qm *model.QueryModel, ref model.RelRef) model.Ident {
	for _, r := range qm.Relations {
		if r.Ref() == ref {
			return r.Name
		}
	}
	return model.Ident(ref)
}

func columnIsIndexed(schema *model.SchemaSnapshot, table model.Ident, column model.Ident) bool {
	if schema == nil {
		return false
	}
	t, ok := schema.Tables[table]
	if !ok {
		return false
	}
	for _, ix := range t.Indexes {
		if len(ix.Columns) > 0 && ix.Columns[0] == column {
			return true
		}
	}
	return false
}

func columnDisplay(rel model.RelRef, col model.Ident) string {
	if rel == "" {
		return string(col)
	}
	return string(rel) + "." + string(col)
}

// indexCoversOrderKeys reports whether, for every relation referenced by the
// ORDER BY clause, an existing index's leading columns match that
// relation's equality predicates followed by its order keys, in order —
// the same prefix-coverage test the index advisor (C6) applies.
func indexCoversOrderKeys(qm *model.QueryModel, schema *model.SchemaSnapshot) bool {
	if schema == nil {
		return false
	}
	byRelation := map[model.RelRef][]model.Ident{}
	var order []model.RelRef
	for _, ok := range qm.OrderKeys {
		if _, seen := byRelation[ok.Relation]; !seen {
			order = append(order, ok.Relation)
		}
		byRelation[ok.Relation] = append(byRelation[ok.Relation], ok.Column)
	}
	for _, rel := range order {
		target := make([]model.Ident, 0, len(byRelation[rel])+len(qm.EqualityPredicates))
		for _, eq := range qm.EqualityPredicates {
			if eq.Relation == rel {
				target = append(target, eq.Column)
			}
		}
		target = append(target, byRelation[rel]...)

		table := relationNameFor(qm, rel)
		schemaTable, ok := schema.Tables[table]
		if !ok {
			return false
		}
		covered := false
		for _, ix := range schemaTable.Indexes {
			if indexPrefixMatches(ix.Columns, target) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return len(order) > 0
}

func indexPrefixMatches(indexCols, target []model.Ident) bool {
	if len(target) == 0 || len(indexCols) < len(target) {
		return false
	}
	for i, col := range target {
		if indexCols[i] != col {
			return false
		}
	}
	return true
}

func equalityAndOrderColumnList(qm *model.QueryModel) string {
	var parts []string
	for _, eq := range qm.EqualityPredicates {
		parts = append(parts, columnDisplay(eq.Relation, eq.Column))
	}
	for _, ok := range qm.OrderKeys {
		parts = append(parts, columnDisplay(ok.Relation, ok.Column)+" "+ok.Direction.String())
	}
	return strings.Join(parts, ", ")
}
