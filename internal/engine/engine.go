// Package engine composes the Planner Gateway and the analysis components
// (C2–C8) into the four inbound operations the core exposes: Lint, Explain,
// Optimize, and Workload. It owns no mutable state beyond the gateway and
// config it was built with — each call is independent and safe to run
// concurrently from different goroutines, since every component it calls
// is itself a pure function or a gateway call scoped to one context.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/gateway"
	"github.com/queryopt/engine/internal/indexadvisor"
	"github.com/queryopt/engine/internal/lint"
	"github.com/queryopt/engine/internal/model"
	"github.com/queryopt/engine/internal/numeric"
	"github.com/queryopt/engine/internal/plan"
	"github.com/queryopt/engine/internal/rewrite"
	"github.com/queryopt/engine/internal/sqlmodel"
	"github.com/queryopt/engine/internal/whatif"
	"github.com/queryopt/engine/internal/workload"
)

// Engine wires one Gateway and one Config together. Callers construct it
// once per process (or per connection, in tests) and reuse it across calls.
type Engine struct {
	gw     gateway.Gateway
	cfg    config.Config
	parser *sqlmodel.Parser
	log    *logrus.Entry // may be nil; every use is guarded
}

// New builds an Engine. gw may be nil — Lint works against the parser and
// linter alone, Explain returns a KindUnavailable error, and
// Optimize/Workload run without schema or plan data (rewrite advice only,
// heuristic ranking). log receives schema/plan fetches the engine degrades
// rather than fails a request over; it may be nil.
func New(gw gateway.Gateway, cfg config.Config, log *logrus.Entry) *Engine {
	return &Engine{gw: gw, cfg: cfg, parser: sqlmodel.New(), log: log}
}

// LintResult is the §6 Lint contract.
type LintResult struct {
	Model  *model.QueryModel `json:"model"`
	Issues []lint.Issue      `json:"issues"`
	Risk   lint.Risk         `json:"risk"`
}

// Lint parses sql and applies the fixed rule set. It never touches the
// gateway — the linter is a pure function of the model.
func (e *Engine) Lint(sql string) LintResult {
	qm := e.parser.Parse(sql)
	result := lint.Run(qm, e.cfg)
	return LintResult{Model: qm, Issues: result.Issues, Risk: result.Risk}
}

// ExplainResult is the §6 Explain contract, minus the optional
// natural-language explanation text (no generator is wired into this
// build; SPEC_FULL.md §6 capability 4 is optional and its absence is never
// fatal).
type ExplainResult struct {
	Plan     *model.PlanTree `json:"plan"`
	Warnings []plan.Warning  `json:"warnings"`
	Metrics  plan.Metrics    `json:"metrics"`
}

// Explain runs EXPLAIN through the gateway and inspects the resulting plan.
func (e *Engine) Explain(ctx context.Context, sql string, analyze bool, timeoutMS int64) (ExplainResult, error) {
	if e.gw == nil {
		return ExplainResult{}, &gateway.Error{Kind: gateway.KindUnavailable, Op: "explain", Err: errNoGateway}
	}
	tree, err := e.gw.Explain(ctx, sql, analyze, time.Duration(timeoutMS)*time.Millisecond)
	if err != nil {
		return ExplainResult{}, err
	}
	result := plan.Inspect(tree)
	return ExplainResult{Plan: tree, Warnings: result.Warnings, Metrics: result.Metrics}, nil
}

// OptimizeOptions is the §6 Optimize options bag.
type OptimizeOptions struct {
	WhatIf    bool
	TopK      int
	TimeoutMS int64
}

// Summary is the §6 Optimize summary object.
type Summary struct {
	Score float64 `json:"score"` // in [0,1], rounded to 3 digits
}

// OptimizeResult is the §6 Optimize contract.
type OptimizeResult struct {
	Suggestions  []model.Suggestion `json:"suggestions"`
	Summary      Summary            `json:"summary"`
	Ranking      whatif.Ranking     `json:"ranking"`
	WhatIfReport whatif.Report      `json:"what_if_report"`
	PlanWarnings []plan.Warning     `json:"plan_warnings"`
	PlanMetrics  plan.Metrics       `json:"plan_metrics"`
	TopKReturned int                `json:"top_k_returned"`
}

// Optimize runs the full C2→C6 (and optionally C7) pipeline for one query:
// parse, fetch schema, explain, lint-adjacent rewrite rules, index
// candidates, then — when enabled — cost-based re-ranking.
func (e *Engine) Optimize(ctx context.Context, sql string, opts OptimizeOptions) (OptimizeResult, error) {
	topK := opts.TopK
	if topK <= 0 || topK > 50 {
		topK = 10
	}
	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond

	qm := e.parser.Parse(sql)
	if qm.StatementKind != model.StatementSelect || qm.ParseError != "" {
		if isNonSelect(qm.ParseError) {
			return OptimizeResult{}, &gateway.Error{Kind: gateway.KindSyntax, Op: "optimize", Err: errNonSelect}
		}
		return OptimizeResult{}, &gateway.Error{Kind: gateway.KindSyntax, Op: "optimize", Err: errSyntax}
	}

	var schema *model.SchemaSnapshot
	var planResult plan.Result
	if e.gw != nil {
		if s, err := e.gw.FetchSchema(ctx, gateway.SchemaFilter{}, timeout); err == nil {
			schema = s
		} else if e.log != nil {
			e.log.WithError(err).Warn("optimize: schema fetch failed, continuing without schema evidence")
		}
		if tree, err := e.gw.Explain(ctx, sql, false, timeout); err == nil {
			planResult = plan.Inspect(tree)
		} else if e.log != nil {
			e.log.WithError(err).Warn("optimize: explain failed, continuing without plan evidence")
		}
	}

	var suggestions []model.Suggestion
	suggestions = append(suggestions, rewrite.Run(qm, schema)...)
	suggestions = append(suggestions, indexadvisor.Run(qm, schema, e.cfg)...)

	cfg := e.cfg
	cfg.WhatIfEnabled = cfg.WhatIfEnabled && opts.WhatIf

	var ranking whatif.Ranking
	var report whatif.Report
	if e.gw != nil {
		suggestions, ranking, report = whatif.Run(ctx, e.gw, sql, suggestions, cfg, e.log)
	} else {
		ranking = whatif.RankingHeuristic
	}

	if len(suggestions) > topK {
		suggestions = suggestions[:topK]
	}

	return OptimizeResult{
		Suggestions:  suggestions,
		Summary:      Summary{Score: numeric.Round3(summaryScore(suggestions))},
		Ranking:      ranking,
		WhatIfReport: report,
		PlanWarnings: planResult.Warnings,
		PlanMetrics:  planResult.Metrics,
		TopKReturned: len(suggestions),
	}, nil
}

// summaryScore averages each returned suggestion's /1000 score into [0,1];
// an empty suggestion list scores 0 — there is nothing to act on.
func summaryScore(suggestions []model.Suggestion) float64 {
	if len(suggestions) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, s := range suggestions {
		if s.Score == nil {
			continue
		}
		sum += *s.Score / 1000
		n++
	}
	if n == 0 {
		return 0
	}
	avg := sum / float64(n)
	if avg < 0 {
		return 0
	}
	if avg > 1 {
		return 1
	}
	return avg
}

// WorkloadOptions is the §6 Workload options bag.
type WorkloadOptions struct {
	TopK   int
	WhatIf bool
}

// Workload runs Optimize-equivalent analysis over every sql independently,
// then hands the per-query facts to internal/workload for cross-query
// aggregation.
func (e *Engine) Workload(ctx context.Context, sqls []string, opts WorkloadOptions) workload.Result {
	results := make([]workload.QueryResult, 0, len(sqls))
	for _, sql := range sqls {
		qm := e.parser.Parse(sql)
		if qm.ParseError != "" {
			results = append(results, workload.QueryResult{SQL: sql, Skipped: true})
			continue
		}

		var schema *model.SchemaSnapshot
		var planResult plan.Result
		if e.gw != nil {
			if s, err := e.gw.FetchSchema(ctx, gateway.SchemaFilter{}, time.Duration(e.cfg.GlobalTimeoutMS)*time.Millisecond); err == nil {
				schema = s
			} else if e.log != nil {
				e.log.WithError(err).Warn("workload: schema fetch failed, continuing without schema evidence")
			}
			if tree, err := e.gw.Explain(ctx, sql, false, time.Duration(e.cfg.TrialTimeoutMS)*time.Millisecond); err == nil {
				planResult = plan.Inspect(tree)
			} else if e.log != nil {
				e.log.WithError(err).Warn("workload: explain failed, continuing without plan evidence")
			}
		}

		var suggestions []model.Suggestion
		suggestions = append(suggestions, rewrite.Run(qm, schema)...)
		suggestions = append(suggestions, indexadvisor.Run(qm, schema, e.cfg)...)

		if opts.WhatIf && e.gw != nil {
			cfg := e.cfg
			cfg.WhatIfEnabled = true
			suggestions, _, _ = whatif.Run(ctx, e.gw, sql, suggestions, cfg, e.log)
		}

		results = append(results, workload.QueryResult{
			SQL:                   sql,
			Suggestions:           suggestions,
			SelectStar:            hasSelectStar(qm),
			SeqScanLargeRelations: planResult.LargeScanRelations,
		})
	}

	result := workload.Aggregate(results, e.cfg)

	topK := opts.TopK
	if topK <= 0 || topK > 50 {
		topK = 10
	}
	if len(result.MergedIndexSuggestions) > topK {
		result.MergedIndexSuggestions = result.MergedIndexSuggestions[:topK]
	}

	return result
}

func hasSelectStar(qm *model.QueryModel) bool {
	for _, p := range qm.Projections {
		if p.Star {
			return true
		}
	}
	return false
}

func isNonSelect(parseError string) bool {
	return parseError == "not a SELECT statement"
}

var (
	errNoGateway = errors.New("engine: no gateway configured")
	errNonSelect = errors.New("engine: optimize is only supported for SELECT statements")
	errSyntax    = errors.New("engine: sql could not be parsed")
)
