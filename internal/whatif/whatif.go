// Package whatif implements the What-If Evaluator (§4.7): it takes the
// ordered INDEX suggestions the index advisor (C6) already produced and, if
// the planner gateway's hypothetical-index capability is available and
// enabled, re-scores them against actual EXPLAIN cost deltas instead of the
// pre-what-if heuristic. Trial failures are recorded but never abort the
// step — the caller always gets a suggestion list back, cost-ranked or
// heuristic-ranked.
package whatif

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/gateway"
	"github.com/queryopt/engine/internal/model"
	"github.com/queryopt/engine/internal/numeric"
)

// Ranking mirrors the two values §6's Optimize contract allows.
type Ranking string

const (
	RankingHeuristic Ranking = "heuristic"
	RankingCostBased Ranking = "cost_based"
)

// Report is the §4.7 step 9 object attached to the Optimize response.
type Report struct {
	Enabled             bool `json:"enabled"`
	Available           bool `json:"available"`
	TrialsCompleted     int  `json:"trials_completed"`
	TrialsFilteredByPct int  `json:"trials_filtered_by_pct"`
	BudgetExceeded      bool `json:"budget_exceeded"`
}

const epsilon = 1e-9

// Run evaluates the what-if step. suggestions is the full suggestion list
// (rewrite + index) in the order C5/C6 produced; sql is the original query
// driving the baseline and trial EXPLAIN calls. log receives every point at
// which Run falls back to the heuristic ranking or drops a trial; it may be
// nil.
func Run(ctx context.Context, gw gateway.Gateway, sql string, suggestions []model.Suggestion, cfg config.Config, log *logrus.Entry) ([]model.Suggestion, Ranking, Report) {
	report := Report{Enabled: cfg.WhatIfEnabled}

	if !cfg.WhatIfEnabled || gw == nil {
		return suggestions, RankingHeuristic, report
	}

	indexSugs, others := partition(suggestions)
	if len(indexSugs) == 0 {
		return suggestions, RankingHeuristic, report
	}

	baselineTimeout := time.Duration(cfg.TrialTimeoutMS) * time.Millisecond
	baseline, err := explainCost(ctx, gw, sql, baselineTimeout)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("what-if baseline EXPLAIN failed, falling back to heuristic ranking")
		}
		return suggestions, RankingHeuristic, report
	}

	trialCount := cfg.MaxTrials
	if trialCount > len(indexSugs) {
		trialCount = len(indexSugs)
	}
	candidates := indexSugs[:trialCount]

	results, completed, budgetExceeded, unavailable := dispatchTrials(ctx, gw, sql, candidates, baseline, cfg, log)
	report.TrialsCompleted = completed
	report.BudgetExceeded = budgetExceeded
	report.Available = !unavailable

	if unavailable {
		if log != nil {
			log.Warn("hypothetical-index capability unavailable, falling back to heuristic ranking")
		}
		return suggestions, RankingHeuristic, report
	}

	if budgetExceeded && log != nil {
		log.WithField("trials_completed", completed).Warn("what-if global timeout exceeded, ranking partial trial results")
	}

	applyResults(indexSugs, results, baseline)

	kept, filtered := filterByReduction(indexSugs, baseline, cfg.MinCostReductionPct)
	report.TrialsFilteredByPct = filtered

	all := make([]model.Suggestion, 0, len(kept)+len(others))
	all = append(all, kept...)
	all = append(all, others...)
	rerank(all)
	return all, RankingCostBased, report
}

// partition splits suggestions into INDEX and non-INDEX groups, preserving
// each group's relative order.
func partition(suggestions []model.Suggestion) (index, other []model.Suggestion) {
	for _, s := range suggestions {
		if s.Kind == model.KindIndex {
			index = append(index, s)
			continue
		}
		other = append(other, s)
	}
	return index, other
}

func explainCost(ctx context.Context, gw gateway.Gateway, sql string, timeout time.Duration) (float64, error) {
	tree, err := gw.ExplainCosts(ctx, sql, timeout)
	if err != nil {
		return 0, err
	}
	return tree.TotalCost(), nil
}

type trialOutcome struct {
	idx         int
	costAfter   float64
	ok          bool
	unavailable bool
}

// dispatchTrials runs candidates in waves bounded by cfg.Parallelism,
// checking the global budget and the early-stop condition between waves —
// the cooperative-cancellation boundary §5 describes. A trial reporting
// ErrUnavailable short-circuits the whole evaluation: the capability probe
// result can change mid-run only from "available" to "not", never back.
func dispatchTrials(ctx context.Context, gw gateway.Gateway, sql string, candidates []model.Suggestion, baseline float64, cfg config.Config, log *logrus.Entry) (results []trialOutcome, completed int, budgetExceeded bool, unavailable bool) {
	deadline := time.Now().Add(time.Duration(cfg.GlobalTimeoutMS) * time.Millisecond)
	trialTimeout := time.Duration(cfg.TrialTimeoutMS) * time.Millisecond
	bestReductionPct := -math.MaxFloat64

	for start := 0; start < len(candidates); start += cfg.Parallelism {
		if time.Now().After(deadline) {
			budgetExceeded = true
			break
		}
		end := start + cfg.Parallelism
		if end > len(candidates) {
			end = len(candidates)
		}
		wave := candidates[start:end]
		waveResults := make([]trialOutcome, len(wave))

		g, gctx := errgroup.WithContext(ctx)
		for i, cand := range wave {
			i, cand := i, cand
			g.Go(func() error {
				trialCtx, cancel := context.WithTimeout(gctx, trialTimeout)
				defer cancel()
				tree, _, err := gw.WithHypotheticalIndex(trialCtx, string(cand.Relation), identsToStrings(cand.Columns), sql, trialTimeout)
				if err != nil {
					unavail := errors.Is(err, gateway.ErrUnavailable)
					if log != nil && !unavail {
						log.WithFields(logrus.Fields{"relation": cand.Relation, "columns": cand.Columns}).WithError(err).Warn("what-if trial failed")
					}
					waveResults[i] = trialOutcome{idx: start + i, unavailable: unavail}
					return nil
				}
				waveResults[i] = trialOutcome{idx: start + i, costAfter: tree.TotalCost(), ok: true}
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range waveResults {
			completed++
			results = append(results, r)
			if r.unavailable {
				return results, completed, budgetExceeded, true
			}
			if r.ok {
				reduction := relativeReductionPct(baseline, r.costAfter)
				if reduction > bestReductionPct {
					bestReductionPct = reduction
				}
			}
		}

		halfDispatched := completed >= cfg.MaxTrials/2
		if halfDispatched && bestReductionPct < cfg.EarlyStopPct {
			break
		}
	}
	return results, completed, budgetExceeded, false
}

func relativeReductionPct(baseline, costAfter float64) float64 {
	return ((baseline - costAfter) / math.Max(baseline, epsilon)) * 100
}

func applyResults(indexSugs []model.Suggestion, results []trialOutcome, baseline float64) {
	for _, r := range results {
		if !r.ok || r.idx >= len(indexSugs) {
			continue
		}
		delta := baseline - r.costAfter
		indexSugs[r.idx].EstCostBefore = numeric.Ptr(baseline)
		indexSugs[r.idx].EstCostAfter = numeric.Ptr(r.costAfter)
		indexSugs[r.idx].EstCostDelta = numeric.Ptr(delta)
	}
}

// filterByReduction drops index suggestions whose completed trial showed a
// cost reduction below the threshold; suggestions with no completed trial
// (skipped by the budget or early-stop) pass through untouched.
func filterByReduction(indexSugs []model.Suggestion, baseline float64, minPct float64) (kept []model.Suggestion, filtered int) {
	for _, s := range indexSugs {
		if s.EstCostDelta != nil {
			pct := (*s.EstCostDelta / math.Max(baseline, epsilon)) * 100
			if pct < minPct {
				filtered++
				continue
			}
		}
		kept = append(kept, s)
	}
	return kept, filtered
}

// rerank applies §4.7 step 8's total order in place.
func rerank(all []model.Suggestion) {
	sort.SliceStable(all, func(i, j int) bool {
		return lessForRank(all[i], all[j])
	})
}

// rankKey buckets a suggestion so positive deltas sort first, suggestions
// with no trial result sort next, and zero-or-negative deltas sort last —
// the ordering §4.7 step 8 specifies for missing data.
func rankKey(s model.Suggestion) (bucket int, negDelta float64) {
	if s.EstCostDelta == nil {
		return 1, 0
	}
	d := *s.EstCostDelta
	if d > 0 {
		return 0, -d
	}
	return 2, -d
}

func lessForRank(a, b model.Suggestion) bool {
	ab, ak := rankKey(a)
	bb, bk := rankKey(b)
	if ab != bb {
		return ab < bb
	}
	if ak != bk {
		return ak < bk
	}
	if ai, bi := a.Impact.Rank(), b.Impact.Rank(); ai != bi {
		return ai > bi
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Title < b.Title
}

func identsToStrings(cols []model.Ident) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = string(c)
	}
	return out
}
