// Package workload implements the Workload Aggregator (C8): fingerprinting
// and grouping a batch of already-analyzed queries, merging their INDEX
// suggestions across fingerprints, and detecting cross-query patterns.
// Running C2–C6 (and optionally C7) per input SQL is the caller's job —
// Aggregate takes their results as plain data, the same owned-data,
// single-threaded computation the rest of §5's model describes for C8.
package workload

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/model"
	"github.com/queryopt/engine/internal/numeric"
)

// QueryResult is one already-analyzed query, as the caller assembled it
// from C2–C6 output, handed to Aggregate for cross-query work.
type QueryResult struct {
	SQL         string
	Suggestions []model.Suggestion

	// SelectStar is true when the query's projection list contains a "*".
	SelectStar bool

	// SeqScanLargeRelations lists the relations whose plan inspection (C4)
	// raised SEQ_SCAN_LARGE for this query.
	SeqScanLargeRelations []model.Ident

	// Skipped is true when the query could not be analyzed (parse error);
	// it still counts toward Stats.Total but is excluded from grouping,
	// index merging and pattern detection.
	Skipped bool
}

// PerQuery is one row of the §4.8 step 5 per_query output.
type PerQuery struct {
	SQL         string             `json:"sql"`
	Fingerprint string             `json:"fingerprint"`
	Suggestions []model.Suggestion `json:"suggestions"`
	Skipped     bool               `json:"skipped"`
}

// Grouped is one fingerprint group.
type Grouped struct {
	Fingerprint string             `json:"fingerprint"`
	Count       int                `json:"count"`
	ExampleSQL  string             `json:"example_sql"`
	Suggestions []model.Suggestion `json:"suggestions"`
}

// Recommendation is one cross-query pattern finding (§4.8 step 4).
type Recommendation struct {
	Pattern string `json:"pattern"`
	Detail  string `json:"detail"`
}

// Stats summarizes the batch.
type Stats struct {
	Total              int `json:"total"`
	Analyzed           int `json:"analyzed"`
	Skipped            int `json:"skipped"`
	UniqueFingerprints int `json:"unique_fingerprints"`
}

// Result is the full §4.8 step 5 output structure.
type Result struct {
	PerQuery                []PerQuery         `json:"per_query"`
	Grouped                 []Grouped          `json:"grouped"`
	MergedIndexSuggestions  []model.Suggestion `json:"merged_index_suggestions"`
	WorkloadRecommendations []Recommendation   `json:"workload_recommendations"`
	Stats                   Stats              `json:"stats"`
}

var (
	reStringLiteral = regexp.MustCompile(`'[^']*'`)
	reNumber        = regexp.MustCompile(`\b\d+\b`)
	reOrderDir      = regexp.MustCompile(`(?i)\b(asc|desc)\b`)
	reWhitespace    = regexp.MustCompile(`\s+`)
)

// normalizedShape canonicalizes sql into the grouping shape §4.8 step 1
// defines: lowercase identifiers, literals replaced with "?", whitespace
// collapsed, ORDER BY directions omitted.
func normalizedShape(sql string) string {
	s := reWhitespace.ReplaceAllString(strings.TrimSpace(sql), " ")
	s = reStringLiteral.ReplaceAllString(s, "'?'")
	s = reNumber.ReplaceAllString(s, "?")
	s = strings.ToLower(s)
	s = reOrderDir.ReplaceAllString(s, "")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint is the stable 64-bit hash of sql's normalized shape (§3's
// WorkloadRecord.fingerprint): literals and whitespace never affect it, only
// the shape does.
func Fingerprint(sql string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalizedShape(sql)))
	return strconv.FormatUint(h.Sum64(), 10)
}

type groupAccum struct {
	count              int
	exampleSQL         string
	suggestionTitles   []string
	suggestionByTitle  map[string]model.Suggestion
	largeScanRelations map[model.Ident]bool
}

// Aggregate groups results by fingerprint, merges their INDEX suggestions,
// and detects the §4.8 step 4 cross-query patterns, processing results in
// the order supplied per §5's ordering guarantee.
func Aggregate(results []QueryResult, cfg config.Config) Result {
	stats := Stats{Total: len(results)}
	perQuery := make([]PerQuery, 0, len(results))

	groups := map[string]*groupAccum{}
	var fpOrder []string
	var globalSelectStarCount int

	for _, r := range results {
		fp := Fingerprint(r.SQL)
		perQuery = append(perQuery, PerQuery{SQL: r.SQL, Fingerprint: fp, Suggestions: r.Suggestions, Skipped: r.Skipped})

		if r.Skipped {
			stats.Skipped++
			continue
		}
		stats.Analyzed++
		if r.SelectStar {
			globalSelectStarCount++
		}

		g, ok := groups[fp]
		if !ok {
			g = &groupAccum{suggestionByTitle: map[string]model.Suggestion{}, largeScanRelations: map[model.Ident]bool{}}
			groups[fp] = g
			fpOrder = append(fpOrder, fp)
		}
		g.count++
		if g.exampleSQL == "" || r.SQL < g.exampleSQL {
			g.exampleSQL = r.SQL
		}
		for _, s := range r.Suggestions {
			if _, exists := g.suggestionByTitle[s.Title]; !exists {
				g.suggestionByTitle[s.Title] = s
				g.suggestionTitles = append(g.suggestionTitles, s.Title)
			}
		}
		for _, rel := range r.SeqScanLargeRelations {
			g.largeScanRelations[rel] = true
		}
	}

	grouped := make([]Grouped, 0, len(fpOrder))
	fpRelations := map[string]map[model.Ident]bool{}
	for _, fp := range fpOrder {
		g := groups[fp]
		sugs := make([]model.Suggestion, 0, len(g.suggestionTitles))
		for _, title := range g.suggestionTitles {
			sugs = append(sugs, g.suggestionByTitle[title])
		}
		grouped = append(grouped, Grouped{Fingerprint: fp, Count: g.count, ExampleSQL: g.exampleSQL, Suggestions: sugs})
		fpRelations[fp] = g.largeScanRelations
	}
	sort.SliceStable(grouped, func(i, j int) bool {
		if grouped[i].Count != grouped[j].Count {
			return grouped[i].Count > grouped[j].Count
		}
		return grouped[i].Fingerprint < grouped[j].Fingerprint
	})
	stats.UniqueFingerprints = len(grouped)

	merged := mergeIndexSuggestions(results)
	recommendations := detectPatterns(grouped, fpRelations, merged, globalSelectStarCount, stats.Analyzed, cfg)

	return Result{
		PerQuery:                perQuery,
		Grouped:                 grouped,
		MergedIndexSuggestions:  merged,
		WorkloadRecommendations: recommendations,
		Stats:                   stats,
	}
}

type indexKey struct {
	relation   model.Ident
	columns    string
	directions string
}

func keyFor(s model.Suggestion) indexKey {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = string(c)
	}
	dirs := make([]string, len(s.Directions))
	for i, d := range s.Directions {
		dirs[i] = d.String()
	}
	return indexKey{relation: s.Relation, columns: strings.Join(cols, ","), directions: strings.Join(dirs, ",")}
}

type indexAccum struct {
	base             model.Suggestion
	frequency        int
	scoreSum         float64
	maxReduction     float64
	hasReduction     bool
	deltaSum         float64
	deltaEverMissing bool
	contributions    int
	maxImpact        model.Impact
}

// mergeIndexSuggestions implements §4.8 step 3: two INDEX candidates merge
// when (relation, column list, direction vector) match, across every
// analyzed query. Frequency counts the contributing queries and score sums
// their per-query scores.
func mergeIndexSuggestions(results []QueryResult) []model.Suggestion {
	accums := map[indexKey]*indexAccum{}
	var order []indexKey

	for _, r := range results {
		if r.Skipped {
			continue
		}
		for _, s := range r.Suggestions {
			if s.Kind != model.KindIndex {
				continue
			}
			k := keyFor(s)
			a, ok := accums[k]
			if !ok {
				a = &indexAccum{base: s, maxImpact: s.Impact}
				accums[k] = a
				order = append(order, k)
			}
			a.frequency++
			a.contributions++
			if s.Score != nil {
				a.scoreSum += *s.Score
			}
			if s.EstReductionPct != nil && (!a.hasReduction || *s.EstReductionPct > a.maxReduction) {
				a.maxReduction = *s.EstReductionPct
				a.hasReduction = true
			}
			if s.EstCostDelta != nil {
				a.deltaSum += *s.EstCostDelta
			} else {
				a.deltaEverMissing = true
			}
			if s.Impact.Rank() > a.maxImpact.Rank() {
				a.maxImpact = s.Impact
			}
		}
	}

	out := make([]model.Suggestion, 0, len(order))
	for _, k := range order {
		a := accums[k]
		merged := a.base
		merged.Impact = a.maxImpact
		merged.Score = numeric.Ptr(a.scoreSum)
		merged.Frequency = a.frequency
		if a.hasReduction {
			merged.EstReductionPct = numeric.Ptr(a.maxReduction)
		}
		if !a.deltaEverMissing && a.contributions > 0 {
			merged.EstCostDelta = numeric.Ptr(a.deltaSum)
		} else {
			merged.EstCostDelta = nil
		}
		out = append(out, merged)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func detectPatterns(grouped []Grouped, fpRelations map[string]map[model.Ident]bool, merged []model.Suggestion, globalSelectStarCount, analyzed int, cfg config.Config) []Recommendation {
	var out []Recommendation

	for _, g := range grouped {
		if g.Count >= cfg.N1Threshold {
			out = append(out, Recommendation{
				Pattern: "N_PLUS_ONE",
				Detail:  fmt.Sprintf("Query shape %q ran %d times; consider batching into a single query.", g.Fingerprint, g.Count),
			})
		}
	}

	relationFingerprints := map[model.Ident]map[string]bool{}
	for fp, rels := range fpRelations {
		for rel := range rels {
			if relationFingerprints[rel] == nil {
				relationFingerprints[rel] = map[string]bool{}
			}
			relationFingerprints[rel][fp] = true
		}
	}
	var sharedRelations []model.Ident
	for rel, fps := range relationFingerprints {
		if len(fps) >= 2 {
			sharedRelations = append(sharedRelations, rel)
		}
	}
	sort.Slice(sharedRelations, func(i, j int) bool { return sharedRelations[i] < sharedRelations[j] })
	for _, rel := range sharedRelations {
		count := len(relationFingerprints[rel])
		detail := fmt.Sprintf("%d query shapes scan %s with a large sequential scan; consider a shared index.", count, rel)
		for _, m := range merged {
			if m.Relation == rel {
				detail = fmt.Sprintf("%d query shapes scan %s with a large sequential scan; %s already addresses it.", count, rel, m.Title)
				break
			}
		}
		out = append(out, Recommendation{Pattern: "SHARED_LARGE_SCAN", Detail: detail})
	}

	if analyzed > 0 && float64(globalSelectStarCount)/float64(analyzed) >= 0.5 {
		out = append(out, Recommendation{
			Pattern: "WIDESPREAD_SELECT_STAR",
			Detail:  "At least half of the analyzed queries use SELECT *; recommend explicit projections across the workload.",
		})
	}

	return out
}
