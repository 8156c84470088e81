package workload

import (
	"testing"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/model"
)

func TestFingerprint_NormalizesLiteralsAndDirections(t *testing.T) {
	a := Fingerprint("SELECT * FROM orders WHERE id = 42 ORDER BY created_at DESC")
	b := Fingerprint("select   *  from orders where id = 7 order by created_at asc")
	if a != b {
		t.Fatalf("expected fingerprints to match regardless of literal/direction, got %q vs %q", a, b)
	}
}

func TestAggregate_GroupsByFingerprintAndDetectsNPlusOne(t *testing.T) {
	cfg := config.Default()
	cfg.N1Threshold = 3

	var results []QueryResult
	for i := 0; i < 3; i++ {
		results = append(results, QueryResult{SQL: "SELECT id FROM orders WHERE customer_id = 1"})
	}

	res := Aggregate(results, cfg)
	if res.Stats.UniqueFingerprints != 1 {
		t.Fatalf("expected one unique fingerprint, got %d", res.Stats.UniqueFingerprints)
	}
	if res.Grouped[0].Count != 3 {
		t.Fatalf("expected group count 3, got %d", res.Grouped[0].Count)
	}
	found := false
	for _, rec := range res.WorkloadRecommendations {
		if rec.Pattern == "N_PLUS_ONE" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an N_PLUS_ONE recommendation, got %+v", res.WorkloadRecommendations)
	}
}

func TestAggregate_MergesIndexSuggestionsAcrossQueries(t *testing.T) {
	score := 2.0
	sug := model.Suggestion{
		Kind:     model.KindIndex,
		Title:    "Index on orders(status)",
		Relation: "orders",
		Columns:  []model.Ident{"status"},
		Impact:   model.ImpactMedium,
		Score:    &score,
	}

	results := []QueryResult{
		{SQL: "SELECT id FROM orders WHERE status = 'a'", Suggestions: []model.Suggestion{sug}},
		{SQL: "SELECT id FROM orders WHERE status = 'b'", Suggestions: []model.Suggestion{sug}},
	}

	res := Aggregate(results, config.Default())
	if len(res.MergedIndexSuggestions) != 1 {
		t.Fatalf("expected one merged index suggestion, got %+v", res.MergedIndexSuggestions)
	}
	merged := res.MergedIndexSuggestions[0]
	if merged.Frequency != 2 {
		t.Fatalf("expected merged frequency 2, got %d", merged.Frequency)
	}
	if merged.Score == nil || *merged.Score != 4 {
		t.Fatalf("expected merged score to sum to 4, got %v", merged.Score)
	}
}

func TestAggregate_WidespreadSelectStar(t *testing.T) {
	results := []QueryResult{
		{SQL: "SELECT * FROM a", SelectStar: true},
		{SQL: "SELECT * FROM b", SelectStar: true},
		{SQL: "SELECT id FROM c"},
	}

	res := Aggregate(results, config.Default())
	found := false
	for _, rec := range res.WorkloadRecommendations {
		if rec.Pattern == "WIDESPREAD_SELECT_STAR" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected WIDESPREAD_SELECT_STAR recommendation, got %+v", res.WorkloadRecommendations)
	}
}

func TestAggregate_SkippedQueriesExcludedFromGrouping(t *testing.T) {
	results := []QueryResult{
		{SQL: "not valid sql", Skipped: true},
		{SQL: "SELECT id FROM orders"},
	}

	res := Aggregate(results, config.Default())
	if res.Stats.Total != 2 || res.Stats.Skipped != 1 || res.Stats.Analyzed != 1 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if res.Stats.UniqueFingerprints != 1 {
		t.Fatalf("expected skipped query excluded from grouping, got %d groups", res.Stats.UniqueFingerprints)
	}
}
