package whatif

import (
	"context"
	"testing"
	"time"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/gateway"
	"github.com/queryopt/engine/internal/model"
)

type fakeGateway struct {
	baselineCost float64
	afterCost    map[string]float64
	unavailable  bool
}

func (f *fakeGateway) Explain(ctx context.Context, sql string, analyze bool, timeout time.Duration) (*model.PlanTree, error) {
	return nil, nil
}

func (f *fakeGateway) ExplainCosts(ctx context.Context, sql string, timeout time.Duration) (*model.PlanTree, error) {
	return &model.PlanTree{Root: &model.PlanNode{TotalCost: f.baselineCost}}, nil
}

func (f *fakeGateway) FetchSchema(ctx context.Context, filter gateway.SchemaFilter, timeout time.Duration) (*model.SchemaSnapshot, error) {
	return nil, nil
}

func (f *fakeGateway) WithHypotheticalIndex(ctx context.Context, relation string, columns []string, sql string, timeout time.Duration) (*model.PlanTree, time.Duration, error) {
	if f.unavailable {
		return nil, 0, &gateway.Error{Kind: gateway.KindUnavailable, Op: "whatif"}
	}
	cost, ok := f.afterCost[relation]
	if !ok {
		cost = f.baselineCost
	}
	return &model.PlanTree{Root: &model.PlanNode{TotalCost: cost}}, time.Millisecond, nil
}

func (f *fakeGateway) Close() {}

func indexSuggestion(relation model.Ident, title string, score float64) model.Suggestion {
	return model.Suggestion{
		Kind:     model.KindIndex,
		Title:    title,
		Relation: relation,
		Impact:   model.ImpactMedium,
		Score:    &score,
	}
}

func TestRun_CostBasedRankingFiltersLowReduction(t *testing.T) {
	gw := &fakeGateway{
		baselineCost: 100,
		afterCost:    map[string]float64{"orders": 10, "customers": 99},
	}
	cfg := config.Default()
	cfg.WhatIfEnabled = true
	cfg.MinCostReductionPct = 5

	suggestions := []model.Suggestion{
		indexSuggestion("orders", "Index on orders(status)", 2),
		indexSuggestion("customers", "Index on customers(id)", 1),
	}

	out, ranking, report := Run(context.Background(), gw, "SELECT 1", suggestions, cfg, nil)
	if ranking != RankingCostBased {
		t.Fatalf("expected cost_based ranking, got %s", ranking)
	}
	if len(out) != 1 || out[0].Title != "Index on orders(status)" {
		t.Fatalf("expected only the high-reduction suggestion to survive, got %+v", out)
	}
	if report.TrialsFilteredByPct != 1 {
		t.Fatalf("expected one suggestion filtered, got %d", report.TrialsFilteredByPct)
	}
}

func TestRun_UnavailableFallsBackToHeuristic(t *testing.T) {
	gw := &fakeGateway{baselineCost: 100, unavailable: true}
	cfg := config.Default()
	cfg.WhatIfEnabled = true

	suggestions := []model.Suggestion{indexSuggestion("orders", "Index on orders(status)", 2)}

	out, ranking, report := Run(context.Background(), gw, "SELECT 1", suggestions, cfg, nil)
	if ranking != RankingHeuristic {
		t.Fatalf("expected heuristic ranking when unavailable, got %s", ranking)
	}
	if report.Available {
		t.Fatalf("expected report.Available=false")
	}
	if len(out) != 1 {
		t.Fatalf("expected suggestions to pass through unchanged, got %+v", out)
	}
}

func TestRun_DisabledReturnsUnchanged(t *testing.T) {
	gw := &fakeGateway{baselineCost: 100}
	cfg := config.Default()
	cfg.WhatIfEnabled = false

	suggestions := []model.Suggestion{indexSuggestion("orders", "Index on orders(status)", 2)}

	out, ranking, _ := Run(context.Background(), gw, "SELECT 1", suggestions, cfg, nil)
	if ranking != RankingHeuristic || len(out) != 1 {
		t.Fatalf("expected passthrough when disabled, got %+v %s", out, ranking)
	}
}
