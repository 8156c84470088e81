// Package sqlmodel parses SELECT text into the normalized model.QueryModel
// the rest of the engine operates on (§4.2). Parsing goes through the
// MySQL-dialect TiDB parser; Postgres-only surface syntax is normalized by
// a preprocessing pass first (preprocess.go), and statements the parser
// still rejects — or whose AST this package cannot walk confidently — fall
// back to a best-effort regex extractor (fallback.go) rather than failing
// the request, per the "fails only when no tree at all is possible"
// contract.
package sqlmodel

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/queryopt/engine/internal/model"
)

// Parser wraps one TiDB parser instance. It is not safe for concurrent use
// across goroutines (the underlying parser is not); callers that need
// concurrent parsing construct one Parser per goroutine.
type Parser struct {
	inner *parser.Parser
}

// New builds a Parser.
func New() *Parser {
	return &Parser{inner: parser.New()}
}

// Parse turns SQL text into a QueryModel. It never returns an error: a
// statement that cannot be understood at all still yields a QueryModel with
// StatementKind = StatementOther and ParseError set, so callers (the linter
// in particular) can surface PARSE_ERROR without a separate error path.
func (p *Parser) Parse(sql string) *model.QueryModel {
	trimmed := strings.TrimSpace(sql)
	stmts, _, err := p.inner.ParseSQL(preprocess(trimmed))
	if err != nil || len(stmts) == 0 {
		return fallbackModel(trimmed, errString(err))
	}

	selectStmt, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		if setOpr, isUnion := stmts[0].(*ast.SetOprStmt); isUnion {
			if m := tryBuildFromSetOpr(trimmed, setOpr); m != nil {
				return m
			}
		}
		return &model.QueryModel{
			StatementKind: model.StatementOther,
			SQL:           trimmed,
			ParseError:    "not a SELECT statement",
		}
	}

	m, ok := tryBuild(trimmed, selectStmt)
	if !ok {
		return fallbackModel(trimmed, "unsupported SELECT shape")
	}
	return m
}

func errString(err error) string {
	if err == nil {
		return "parser produced no statement"
	}
	return err.Error()
}

// tryBuild converts one *ast.SelectStmt into a QueryModel. AST shapes this
// package does not recognize are treated as "ok=false" so the caller can
// degrade to the regex fallback instead of propagating a panic — the AST
// comes from a dialect-mismatched parser, so its failure modes are not
// fully enumerable from this side.
func tryBuild(sql string, stmt *ast.SelectStmt) (m *model.QueryModel, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m, ok = nil, false
		}
	}()

	qm := &model.QueryModel{
		StatementKind: model.StatementSelect,
		SQL:           sql,
		Distinct:      stmt.Distinct,
	}

	if stmt.From != nil && stmt.From.TableRefs != nil {
		relations, joins, fromSubs := flattenTableRefs(stmt.From.TableRefs)
		qm.Relations = relations
		qm.Joins = joins
		qm.Subqueries = append(qm.Subqueries, fromSubs...)
	}

	aliasByTable := aliasLookup(qm.Relations)

	if stmt.Fields != nil {
		qm.Projections, qm.OpaqueProjection, qm.Aggregates = extractProjections(stmt.Fields, aliasByTable)
	}

	if stmt.Where != nil {
		eqs, ranges, subs, likes, orGroups := extractPredicates(stmt.Where, aliasByTable)
		qm.EqualityPredicates = eqs
		qm.RangePredicates = ranges
		qm.Subqueries = append(qm.Subqueries, subs...)
		qm.LikePredicates = likes
		qm.OrEqualityColumns = orGroups
	}

	if stmt.GroupBy != nil {
		for _, item := range stmt.GroupBy.Items {
			if ref, colOK := columnRefOf(item.Expr, aliasByTable); colOK && !ref.Ambiguous {
				qm.GroupKeys = append(qm.GroupKeys, model.GroupKey{Relation: ref.Relation, Column: ref.Column})
			}
		}
	}

	if stmt.OrderBy != nil {
		for _, item := range stmt.OrderBy.Items {
			if ref, colOK := columnRefOf(item.Expr, aliasByTable); colOK && !ref.Ambiguous {
				dir := model.Asc
				if item.Desc {
					dir = model.Desc
				}
				qm.OrderKeys = append(qm.OrderKeys, model.OrderKey{Relation: ref.Relation, Column: ref.Column, Direction: dir})
			}
		}
	}

	if stmt.Limit != nil {
		if n, limitOK := intLiteral(stmt.Limit.Count); limitOK {
			qm.Limit = &n
		}
	}

	return qm, true
}

func tryBuildFromSetOpr(sql string, stmt *ast.SetOprStmt) *model.QueryModel {
	defer func() { recover() }() //nolint: errcheck — best-effort only

	if stmt.SelectList == nil || len(stmt.SelectList.Selects) == 0 {
		return nil
	}
	first, ok := stmt.SelectList.Selects[0].(*ast.SelectStmt)
	if !ok {
		return nil
	}
	qm, built := tryBuild(sql, first)
	if !built {
		return nil
	}
	for i, sel := range stmt.SelectList.Selects {
		branch, isSelect := sel.(*ast.SelectStmt)
		all := false
		if isSelect && branch.AfterSetOperator != nil {
			all = *branch.AfterSetOperator == ast.Union || *branch.AfterSetOperator == ast.UnionAll
			all = all && *branch.AfterSetOperator == ast.UnionAll
		}
		if i == 0 {
			continue
		}
		qm.Unions = append(qm.Unions, model.UnionBranch{All: all})
	}
	return qm
}

func aliasLookup(relations []model.Relation) map[string]model.RelRef {
	out := make(map[string]model.RelRef, len(relations)*2)
	for _, r := range relations {
		ref := r.Ref()
		out[strings.ToLower(string(r.Name))] = ref
		if r.Alias != "" {
			out[strings.ToLower(string(r.Alias))] = ref
		}
	}
	return out
}
