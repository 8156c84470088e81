// Package lint applies the fixed, ordered rule set of the linter (§4.3) to a
// parsed query model. Every rule is a pure function of the model plus the
// glob configuration that names "large" tables and "numeric" columns; no
// rule touches the database.
package lint

import (
	"fmt"
	"path"
	"strings"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/model"
)

// Severity mirrors the three levels the rule catalog assigns.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityHigh Severity = "high"
)

// Issue is one lint finding.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Hint     string   `json:"hint"`
}

// Risk is the overall summary the rule set rolls up to.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Result is the linter's output for one query model.
type Result struct {
	Issues []Issue
	Risk   Risk
}

// Run evaluates every rule in catalog order and rolls the result up into a
// single risk level.
func Run(qm *model.QueryModel, cfg config.Config) Result {
	var issues []Issue

	if qm.ParseError != "" {
		issues = append(issues, Issue{
			Code:     "PARSE_ERROR",
			Message:  qm.ParseError,
			Severity: SeverityHigh,
			Hint:     "Check SQL syntax",
		})
		return Result{Issues: issues, Risk: RiskHigh}
	}

	if qm.StatementKind != model.StatementSelect {
		return Result{Issues: issues, Risk: RiskLow}
	}

	issues = append(issues, selectStar(qm)...)
	issues = append(issues, joinIssues(qm)...)
	issues = append(issues, ambiguousColumn(qm)...)
	issues = append(issues, unfilteredLargeTable(qm, cfg)...)
	issues = append(issues, implicitCastPredicate(qm, cfg)...)
	issues = append(issues, unusedJoinedTable(qm)...)

	return Result{Issues: issues, Risk: rollUp(issues)}
}

func selectStar(qm *model.QueryModel) []Issue {
	for _, p := range qm.Projections {
		if p.Star {
			return []Issue{{
				Code:     "SELECT_STAR",
				Message:  "Using SELECT * is not recommended",
				Severity: SeverityWarn,
				Hint:     "Explicitly list required columns",
			}}
		}
	}
	return nil
}

// joinIssues covers MISSING_JOIN_ON and CARTESIAN_JOIN together since the
// latter's trigger depends on whether the former fired for the same join.
func joinIssues(qm *model.QueryModel) []Issue {
	var out []Issue
	for _, j := range qm.Joins {
		isCrossLike := j.Kind == model.JoinCross || j.Kind == model.JoinImplicitComma
		missingOn := len(j.OnColumns) == 0

		if !isCrossLike && missingOn {
			out = append(out, Issue{
				Code:     "MISSING_JOIN_ON",
				Message:  fmt.Sprintf("Missing ON clause in %s join", j.Kind),
				Severity: SeverityHigh,
				Hint:     "Add an ON clause with join conditions",
			})
		}
		if isCrossLike || missingOn {
			out = append(out, Issue{
				Code:     "CARTESIAN_JOIN",
				Message:  "Cartesian product detected",
				Severity: SeverityHigh,
				Hint:     "Add join conditions or confirm if CROSS JOIN is intended",
			})
		}
	}
	return out
}

func ambiguousColumn(qm *model.QueryModel) []Issue {
	if len(qm.Relations) < 2 {
		return nil
	}
	var out []Issue
	for _, p := range qm.Projections {
		if p.Star {
			continue
		}
		if p.Ambiguous {
			out = append(out, Issue{
				Code:     "AMBIGUOUS_COLUMN",
				Message:  fmt.Sprintf("Column %s is not table-qualified", p.Column),
				Severity: SeverityWarn,
				Hint:     "Qualify column with table name or alias",
			})
		}
	}
	return out
}

func unfilteredLargeTable(qm *model.QueryModel, cfg config.Config) []Issue {
	hasFilter := len(qm.EqualityPredicates) > 0 || len(qm.RangePredicates) > 0
	if hasFilter || qm.Limit != nil {
		return nil
	}
	var out []Issue
	for _, rel := range qm.Relations {
		name := strings.ToLower(string(rel.Name))
		if !matchesAny(cfg.LargeTablePatterns, name) {
			continue
		}
		out = append(out, Issue{
			Code:     "UNFILTERED_LARGE_TABLE",
			Message:  fmt.Sprintf("Large table %s queried without restrictive filters", name),
			Severity: SeverityWarn,
			Hint:     "Add WHERE clause with restrictive predicates or LIMIT",
		})
	}
	return out
}

func implicitCastPredicate(qm *model.QueryModel, cfg config.Config) []Issue {
	var out []Issue
	for _, eq := range qm.EqualityPredicates {
		if eq.Literal != model.LiteralText {
			continue
		}
		if !matchesAny(cfg.NumericColumnPatterns, strings.ToLower(string(eq.Column))) {
			continue
		}
		out = append(out, Issue{
			Code:     "IMPLICIT_CAST_PREDICATE",
			Message:  "Possible implicit cast in predicate",
			Severity: SeverityInfo,
			Hint:     "Ensure column and literal types match",
		})
	}
	return out
}

func unusedJoinedTable(qm *model.QueryModel) []Issue {
	if len(qm.Joins) == 0 {
		return nil
	}
	for _, p := range qm.Projections {
		if p.Star {
			return nil // SELECT * uses every table
		}
	}

	used := map[model.RelRef]bool{}
	for _, p := range qm.Projections {
		if p.Relation != "" {
			used[p.Relation] = true
		}
	}
	for _, eq := range qm.EqualityPredicates {
		used[eq.Relation] = true
	}
	for _, r := range qm.RangePredicates {
		used[r.Relation] = true
	}
	for _, o := range qm.OrderKeys {
		used[o.Relation] = true
	}
	for _, g := range qm.GroupKeys {
		used[g.Relation] = true
	}
	for _, j := range qm.Joins {
		for _, c := range j.OnColumns {
			used[c.Relation] = true
		}
	}

	var out []Issue
	for _, j := range qm.Joins {
		if !used[j.Right] {
			out = append(out, Issue{
				Code:     "UNUSED_JOINED_TABLE",
				Message:  fmt.Sprintf("Table %s is joined but not used", j.Right),
				Severity: SeverityWarn,
				Hint:     "Remove unused join or use columns from the table",
			})
		}
	}
	return out
}

func rollUp(issues []Issue) Risk {
	high, warn := 0, 0
	for _, i := range issues {
		switch i.Severity {
		case SeverityHigh:
			high++
		case SeverityWarn:
			warn++
		}
	}
	switch {
	case high > 0:
		return RiskHigh
	case warn >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// matchesAny reports whether name matches any of the configured glob
// patterns. path.Match's "*"/"?" semantics are all §6 patterns need, so this
// stays on the standard library rather than pulling in a dedicated glob
// library for a two-argument check.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); ok && err == nil {
			return true
		}
	}
	return false
}
