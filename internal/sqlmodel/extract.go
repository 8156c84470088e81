package sqlmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"

	"github.com/queryopt/engine/internal/model"
)

// flattenTableRefs walks the (possibly nested) join tree produced by the
// FROM clause into FROM-order relations, join edges, and any FROM-position
// subqueries worth recording (currently: ones that aggregate on their own),
// the way sql_analyzer.py's extract_tables/_extract_joins walk sqlglot's
// FROM/JOIN nodes.
func flattenTableRefs(node ast.ResultSetNode) ([]model.Relation, []model.Join, []model.SubqueryRef) {
	var relations []model.Relation
	var joins []model.Join
	var subs []model.SubqueryRef

	var walk func(n ast.ResultSetNode)
	walk = func(n ast.ResultSetNode) {
		switch t := n.(type) {
		case *ast.Join:
			if t.Left != nil {
				walk(t.Left)
			}
			if t.Right != nil {
				rightBefore := len(relations)
				walk(t.Right)
				if len(relations) > rightBefore {
					rel := relations[rightBefore]
					joins = append(joins, buildJoin(t, rel.Ref()))
				}
			}
		case *ast.TableSource:
			rel, sub, hasSub := tableSourceToRelation(t)
			relations = append(relations, rel)
			if hasSub {
				subs = append(subs, sub)
			}
		case *ast.TableName:
			relations = append(relations, model.Relation{Name: model.Ident(strings.ToLower(t.Name.String()))})
		}
	}
	walk(node)
	return relations, joins, subs
}

// tableSourceToRelation resolves one FROM-clause entry. For a FROM-position
// subquery that itself has a GROUP BY, it also returns a SubqueryRef
// recording the derived table's grouping columns — what the rewrite
// advisor's predicate-pushdown rule needs to tell a genuinely poolable
// filter from an ordinary flat query's own GROUP BY.
func tableSourceToRelation(ts *ast.TableSource) (model.Relation, model.SubqueryRef, bool) {
	alias := ""
	if ts.AsName.String() != "" {
		alias = strings.ToLower(ts.AsName.String())
	}
	if tn, ok := ts.Source.(*ast.TableName); ok {
		return model.Relation{Name: model.Ident(strings.ToLower(tn.Name.String())), Alias: model.Ident(alias)}, model.SubqueryRef{}, false
	}
	// Subquery source: expose it under its alias only; the model does not
	// descend into it (§4.2 "top-level model only records the existence"),
	// beyond recording its own grouping columns when it aggregates.
	name := alias
	if name == "" {
		name = "subquery"
	}
	rel := model.Relation{Name: model.Ident(name), Alias: model.Ident(alias)}

	inner, ok := ts.Source.(*ast.SelectStmt)
	if !ok {
		return rel, model.SubqueryRef{}, false
	}
	cols := innerGroupByColumns(inner)
	if len(cols) == 0 {
		return rel, model.SubqueryRef{}, false
	}
	return rel, model.SubqueryRef{Location: model.SubqueryFrom, Relation: rel.Ref(), GroupByColumns: cols}, true
}

// innerGroupByColumns returns the bare column names a FROM-position
// subquery groups by, as the outer query would see them on the derived
// table. Expressions the model can't resolve to a bare column are skipped —
// the rule this feeds only needs the columns it can be certain are safe.
func innerGroupByColumns(inner *ast.SelectStmt) []model.Ident {
	if inner.GroupBy == nil {
		return nil
	}
	var out []model.Ident
	for _, item := range inner.GroupBy.Items {
		if cn, ok := item.Expr.(*ast.ColumnNameExpr); ok && cn.Name != nil {
			out = append(out, model.Ident(strings.ToLower(cn.Name.Name.String())))
		}
	}
	return out
}

func buildJoin(j *ast.Join, right model.RelRef) model.Join {
	kind := model.JoinInner
	switch j.Tp {
	case ast.LeftJoin:
		kind = model.JoinLeft
	case ast.RightJoin:
		kind = model.JoinRight
	case ast.CrossJoin:
		kind = model.JoinCross
	default:
		if j.On == nil {
			kind = model.JoinImplicitComma
		}
	}

	var onCols []model.ColumnPair
	if j.On != nil && j.On.Expr != nil {
		collectEqualityColumnPairs(j.On.Expr, &onCols)
	}
	return model.Join{Kind: kind, Right: right, OnColumns: onCols}
}

// collectEqualityColumnPairs descends an AND-chain of equality predicates
// recording every column reference it touches — enough for the linter's
// MISSING_JOIN_ON/CARTESIAN_JOIN checks and for the index advisor's join
// column pool (J in §4.6 step 2).
func collectEqualityColumnPairs(expr ast.ExprNode, out *[]model.ColumnPair) {
	bin, ok := expr.(*ast.BinaryOperationExpr)
	if !ok {
		return
	}
	switch bin.Op {
	case opcode.LogicAnd:
		collectEqualityColumnPairs(bin.L, out)
		collectEqualityColumnPairs(bin.R, out)
	case opcode.EQ:
		if col, colOK := asColumnName(bin.L); colOK {
			*out = append(*out, col)
		}
		if col, colOK := asColumnName(bin.R); colOK {
			*out = append(*out, col)
		}
	}
}

func asColumnName(e ast.ExprNode) (model.ColumnPair, bool) {
	cn, ok := e.(*ast.ColumnNameExpr)
	if !ok || cn.Name == nil {
		return model.ColumnPair{}, false
	}
	rel := model.RelRef(strings.ToLower(cn.Name.Table.String()))
	return model.ColumnPair{Relation: rel, Column: model.Ident(strings.ToLower(cn.Name.Name.String()))}, true
}

// extractProjections walks the SELECT list. A projection the model can't
// resolve to a bare (possibly aliased) column is recorded as opaque,
// suppressing the "explicit projection" rewrite rule (§4.2). Aggregate calls
// are recognized separately so the rewrite advisor can match COUNT(col)
// against COUNT(*) without treating the projection as opaque.
func extractProjections(fields *ast.FieldList, aliasByTable map[string]model.RelRef) ([]model.ColumnRef, bool, []model.Aggregate) {
	var out []model.ColumnRef
	var aggregates []model.Aggregate
	opaque := false
	for _, f := range fields.Fields {
		if f.WildCard != nil {
			rel := model.RelRef("")
			if f.WildCard.Table.String() != "" {
				rel = resolveAlias(aliasByTable, f.WildCard.Table.String())
			}
			out = append(out, model.ColumnRef{Star: true, Relation: rel})
			continue
		}
		if cn, ok := f.Expr.(*ast.ColumnNameExpr); ok && cn.Name != nil {
			ref, colOK := columnRefOf(cn, aliasByTable)
			if colOK {
				out = append(out, ref)
				continue
			}
		}
		if agg, ok := f.Expr.(*ast.AggregateFuncExpr); ok {
			aggregates = append(aggregates, aggregateOf(agg, aliasByTable))
			continue
		}
		// Anything else (arithmetic, literal, non-aggregate function, subquery)
		// is an opaque computed projection.
		opaque = true
	}
	return out, opaque, aggregates
}

// aggregateOf classifies one AggregateFuncExpr. COUNT(*) carries no argument
// expression in the grammar this parser accepts, so an empty argument list
// (or source text containing the bare "*") is treated as the star form.
func aggregateOf(agg *ast.AggregateFuncExpr, aliasByTable map[string]model.RelRef) model.Aggregate {
	fn := strings.ToUpper(agg.F)
	if len(agg.Args) == 0 || strings.Contains(agg.OriginalText(), "*") {
		return model.Aggregate{Function: fn, IsStar: true}
	}
	if len(agg.Args) == 1 {
		if ref, ok := columnRefOf(agg.Args[0], aliasByTable); ok && !ref.Ambiguous {
			return model.Aggregate{Function: fn, Relation: ref.Relation, Column: ref.Column}
		}
	}
	return model.Aggregate{Function: fn}
}

func resolveAlias(aliasByTable map[string]model.RelRef, name string) model.RelRef {
	if ref, ok := aliasByTable[strings.ToLower(name)]; ok {
		return ref
	}
	return model.RelRef(strings.ToLower(name))
}

// columnRefOf resolves an expression to a ColumnRef when it is a bare
// column reference, qualified or not. Unqualified references in a
// multi-relation query are marked ambiguous per §4.2.
func columnRefOf(e ast.ExprNode, aliasByTable map[string]model.RelRef) (model.ColumnRef, bool) {
	cn, ok := e.(*ast.ColumnNameExpr)
	if !ok || cn.Name == nil {
		return model.ColumnRef{}, false
	}
	col := model.Ident(strings.ToLower(cn.Name.Name.String()))
	table := cn.Name.Table.String()
	if table != "" {
		return model.ColumnRef{Relation: resolveAlias(aliasByTable, table), Column: col}, true
	}
	if len(aliasByTable) > 1 {
		return model.ColumnRef{Column: col, Ambiguous: true}, true
	}
	for _, ref := range aliasByTable {
		return model.ColumnRef{Relation: ref, Column: col}, true
	}
	return model.ColumnRef{Column: col}, true
}

// extractPredicates walks a WHERE tree (an AND-chain at the top) splitting
// it into equality predicates, range predicates, and subquery references,
// mirroring sql_analyzer.py's filter extraction plus the subquery-shape
// detection the rewrite advisor (C5) needs.
func extractPredicates(where ast.ExprNode, aliasByTable map[string]model.RelRef) ([]model.EqualityPredicate, []model.RangePredicate, []model.SubqueryRef, []model.LikePredicate, []model.OrEqualityGroup) {
	var eqs []model.EqualityPredicate
	var ranges []model.RangePredicate
	var subs []model.SubqueryRef
	var likes []model.LikePredicate
	var orGroups []model.OrEqualityGroup

	var walk func(e ast.ExprNode)
	walk = func(e ast.ExprNode) {
		switch n := e.(type) {
		case *ast.BinaryOperationExpr:
			if n.Op == opcode.LogicAnd {
				walk(n.L)
				walk(n.R)
				return
			}
			if n.Op == opcode.LogicOr {
				if ref, count, ok := collectOrEqualities(n, aliasByTable); ok && count >= 2 {
					orGroups = append(orGroups, model.OrEqualityGroup{Relation: ref.Relation, Column: ref.Column, Count: count})
				}
				return
			}
			handleComparison(n, aliasByTable, &eqs, &ranges)
		case *ast.PatternLikeOrIlikeExpr:
			if !n.Not {
				if ref, ok := columnRefOf(n.Expr, aliasByTable); ok && !ref.Ambiguous {
					likes = append(likes, model.LikePredicate{Relation: ref.Relation, Column: ref.Column, LeadingWildcard: hasLeadingWildcard(n.Pattern)})
				}
			}
		case *ast.BetweenExpr:
			if ref, ok := columnRefOf(n.Expr, aliasByTable); ok && !ref.Ambiguous {
				ranges = append(ranges, model.RangePredicate{Relation: ref.Relation, Column: ref.Column, Kind: model.RangeBetween})
			}
		case *ast.PatternInExpr:
			if ref, ok := columnRefOf(n.Expr, aliasByTable); ok && !ref.Ambiguous {
				if n.Sel != nil {
					loc := model.SubqueryWhereIn
					if n.Not {
						loc = model.SubqueryWhereNotIn
					}
					sel, _ := n.Sel.(*ast.SubqueryExpr)
					subs = append(subs, model.SubqueryRef{Location: loc, Correlated: subqueryCorrelated(sel)})
				} else {
					ranges = append(ranges, model.RangePredicate{Relation: ref.Relation, Column: ref.Column, Kind: model.RangeIn})
				}
			}
		case *ast.ExistsSubqueryExpr:
			loc := model.SubqueryWhereExists
			if n.Not {
				loc = model.SubqueryWhereNotExists
			}
			existsSel, _ := n.Sel.(*ast.SubqueryExpr)
			correlated := n.Sel != nil && subqueryCorrelated(existsSel)
			subs = append(subs, model.SubqueryRef{Location: loc, Correlated: correlated})
		case *ast.ParenthesesExpr:
			walk(n.Expr)
		}
	}
	walk(where)
	return eqs, ranges, subs, likes, orGroups
}

func subqueryCorrelated(sel *ast.SubqueryExpr) bool {
	return sel != nil && sel.Correlated
}

// collectOrEqualities reports the shared column and equality-term count of an
// OR-chain when every leaf is an equality comparison against the same
// column, e.g. `status = 'a' OR status = 'b'`. A chain that touches more
// than one column, or contains a non-equality leaf, is not a candidate for
// the OR-to-IN rewrite rule and reports ok=false.
func collectOrEqualities(e ast.ExprNode, aliasByTable map[string]model.RelRef) (model.ColumnRef, int, bool) {
	switch n := e.(type) {
	case *ast.BinaryOperationExpr:
		switch n.Op {
		case opcode.LogicOr:
			leftRef, leftCount, leftOK := collectOrEqualities(n.L, aliasByTable)
			rightRef, rightCount, rightOK := collectOrEqualities(n.R, aliasByTable)
			if leftOK && rightOK && leftRef.Relation == rightRef.Relation && leftRef.Column == rightRef.Column {
				return leftRef, leftCount + rightCount, true
			}
			return model.ColumnRef{}, 0, false
		case opcode.EQ:
			ref, ok := columnRefOf(n.L, aliasByTable)
			if !ok || ref.Ambiguous {
				ref, ok = columnRefOf(n.R, aliasByTable)
			}
			if !ok || ref.Ambiguous {
				return model.ColumnRef{}, 0, false
			}
			return ref, 1, true
		}
	case *ast.ParenthesesExpr:
		return collectOrEqualities(n.Expr, aliasByTable)
	}
	return model.ColumnRef{}, 0, false
}

// hasLeadingWildcard reports whether a LIKE pattern literal starts with a
// wildcard, the shape that forces a full index scan. Non-literal patterns
// (bound parameters, expressions) are treated as not leading-wildcard since
// the advisor has no value to inspect.
func hasLeadingWildcard(pattern ast.ExprNode) bool {
	v, ok := pattern.(ast.ValueExpr)
	if !ok {
		return false
	}
	s, ok := v.GetValue().(string)
	if !ok || s == "" {
		return false
	}
	return s[0] == '%' || s[0] == '_'
}

func handleComparison(n *ast.BinaryOperationExpr, aliasByTable map[string]model.RelRef, eqs *[]model.EqualityPredicate, ranges *[]model.RangePredicate) {
	ref, ok := columnRefOf(n.L, aliasByTable)
	lit := n.R
	if !ok || ref.Ambiguous {
		ref, ok = columnRefOf(n.R, aliasByTable)
		lit = n.L
	}
	if !ok || ref.Ambiguous {
		return
	}
	switch n.Op {
	case opcode.EQ:
		*eqs = append(*eqs, model.EqualityPredicate{Relation: ref.Relation, Column: ref.Column, Literal: literalShapeOf(lit)})
	case opcode.LT:
		*ranges = append(*ranges, model.RangePredicate{Relation: ref.Relation, Column: ref.Column, Kind: model.RangeLess})
	case opcode.LE:
		*ranges = append(*ranges, model.RangePredicate{Relation: ref.Relation, Column: ref.Column, Kind: model.RangeLessEq})
	case opcode.GT:
		*ranges = append(*ranges, model.RangePredicate{Relation: ref.Relation, Column: ref.Column, Kind: model.RangeGreater})
	case opcode.GE:
		*ranges = append(*ranges, model.RangePredicate{Relation: ref.Relation, Column: ref.Column, Kind: model.RangeGreaterEq})
	}
}

func literalShapeOf(e ast.ExprNode) model.LiteralShape {
	switch v := e.(type) {
	case ast.ParamMarkerExpr:
		return model.LiteralParameter
	case ast.ValueExpr:
		switch val := v.GetValue().(type) {
		case int64, uint64:
			return model.LiteralInteger
		case float64, float32:
			return model.LiteralDecimal
		case string:
			return model.LiteralText
		case bool:
			return model.LiteralBoolean
		case nil:
			return model.LiteralNull
		default:
			// The parser's own decimal literals (e.g. 19.99) surface as its
			// internal *types.MyDecimal rather than float64 — it implements
			// fmt.Stringer, not any exported numeric interface, so that's
			// the only portable way to recognize one from here.
			if s, ok := val.(fmt.Stringer); ok {
				if _, err := strconv.ParseFloat(s.String(), 64); err == nil {
					return model.LiteralDecimal
				}
			}
			return model.LiteralText
		}
	default:
		return model.LiteralText
	}
}

func intLiteral(e ast.ExprNode) (int64, bool) {
	v, ok := e.(ast.ValueExpr)
	if !ok {
		return 0, false
	}
	switch n := v.GetValue().(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
