// Package indexadvisor implements the Index Advisor (§4.6): for each
// relation referenced by a QueryModel it builds one candidate column list
// from the model's equality, range, order, group, and join column pools,
// scores it against the SchemaSnapshot, and emits an INDEX Suggestion when
// the candidate clears the width and gain thresholds. It never talks to the
// planner — cost-based refinement of its output is the what-if evaluator's
// job (C7).
package indexadvisor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/queryopt/engine/internal/config"
	"github.com/queryopt/engine/internal/model"
	"github.com/queryopt/engine/internal/numeric"
)

// Run evaluates every relation in qm and returns INDEX suggestions ordered
// per §4.6's final step: descending score, then ascending title. schema may
// be nil, in which case every relation is treated as having no row estimate
// and is skipped — the same degrade-rather-than-fail behavior the gateway's
// ResourceExhausted case produces.
func Run(qm *model.QueryModel, schema *model.SchemaSnapshot, cfg config.Config) []model.Suggestion {
	if qm == nil || qm.StatementKind != model.StatementSelect {
		return nil
	}

	var out []model.Suggestion
	seen := map[model.RelRef]bool{}
	for _, rel := range qm.Relations {
		ref := rel.Ref()
		if seen[ref] {
			continue
		}
		seen[ref] = true

		if s, ok := suggestForRelation(qm, schema, cfg, rel, ref); ok {
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := *out[i].Score, *out[j].Score
		if si != sj {
			return si > sj
		}
		return out[i].Title < out[j].Title
	})
	return out
}

type pools struct {
	equality []model.Ident
	rang     []model.Ident
	order    []model.OrderKey
	group    []model.Ident
	join     map[model.Ident]bool
}

func buildPools(qm *model.QueryModel, ref model.RelRef) pools {
	p := pools{join: map[model.Ident]bool{}}
	for _, eq := range qm.EqualityPredicates {
		if eq.Relation == ref {
			p.equality = append(p.equality, eq.Column)
		}
	}
	for _, rg := range qm.RangePredicates {
		if rg.Relation == ref {
			p.rang = append(p.rang, rg.Column)
		}
	}
	for _, ok := range qm.OrderKeys {
		if ok.Relation == ref {
			p.order = append(p.order, ok)
		}
	}
	for _, g := range qm.GroupKeys {
		if g.Relation == ref {
			p.group = append(p.group, g.Column)
		}
	}
	for _, j := range qm.Joins {
		for _, col := range j.OnColumns {
			if col.Relation == ref {
				p.join[col.Column] = true
			}
		}
	}
	return p
}

func suggestForRelation(qm *model.QueryModel, schema *model.SchemaSnapshot, cfg config.Config, rel model.Relation, ref model.RelRef) (model.Suggestion, bool) {
	rows := rowEstimate(schema, rel.Name)
	if rows < cfg.MinRowsForIndex {
		return model.Suggestion{}, false
	}

	p := buildPools(qm, ref)

	orderGroupUnion := dedupIdents(append(append([]model.Ident{}, orderColumns(p.order)...), p.group...))
	candidate := dedupIdents(append(append(append([]model.Ident{}, p.equality...), p.rang...), orderGroupUnion...))
	if len(candidate) == 0 {
		return model.Suggestion{}, false
	}
	if len(candidate) > cfg.MaxIndexCols {
		candidate = candidate[:cfg.MaxIndexCols]
	}

	directions := directionsFor(candidate, p.order)

	existing := existingIndexes(schema, rel.Name)
	if indexCoversPrefix(existing, candidate, directions) {
		return model.Suggestion{}, false
	}

	width := estimateWidth(schema, rel.Name, candidate)
	if width > cfg.IndexMaxWidthBytes {
		return model.Suggestion{}, false
	}

	eqHits := intersectCount(p.equality, candidate)
	rangeHits := intersectCount(p.rang, candidate)
	orderGroupHits := intersectCount(orderGroupUnion, candidate)
	orderHits := intersectCount(orderColumns(p.order), candidate)

	joinHit := false
	for _, c := range candidate {
		if p.join[c] {
			joinHit = true
			break
		}
	}

	widthPenalty := math.Max(0.1, math.Sqrt(float64(cfg.IndexMaxWidthBytes)/math.Max(float64(width), 1)))
	score := (1.0*float64(eqHits) + 0.5*float64(rangeHits) + 0.25*float64(orderGroupHits)) * widthPenalty
	if joinHit {
		score *= cfg.JoinColPriorBoost
	}

	estReductionPct := math.Min(100, 10*float64(eqHits))
	if orderHits > 0 {
		estReductionPct += 5
	}
	estReductionPct = math.Min(100, estReductionPct)
	if estReductionPct < cfg.SuppressLowGainPct {
		return model.Suggestion{}, false
	}

	impact := model.ImpactMedium
	if eqHits > 0 && orderGroupHits > 0 {
		impact = model.ImpactHigh
	}
	confidence := 0.600
	if orderHits > 0 {
		confidence = 0.700
	}

	name := indexName(rel.Name, candidate)
	ddl := fmt.Sprintf("CREATE INDEX CONCURRENTLY %s ON %s (%s)", name, rel.Name, columnListDDL(candidate))

	title := fmt.Sprintf("Index on %s(%s)", rel.Name, joinIdents(candidate, ", "))

	return model.Suggestion{
		Kind:               model.KindIndex,
		Title:              title,
		Rationale:          "Supports equality, range, and ordering for faster lookups and Top-N queries.",
		Impact:             impact,
		Confidence:         numeric.Round3(confidence),
		Statements:         []string{ddl},
		Score:              numeric.Ptr(score),
		EstReductionPct:    numeric.Ptr(estReductionPct),
		EstIndexWidthBytes: &width,
		Relation:           rel.Name,
		Columns:            candidate,
		Directions:         directionsIfNonDefault(directions),
	}, true
}

func orderColumns(order []model.OrderKey) []model.Ident {
	out := make([]model.Ident, 0, len(order))
	for _, o := range order {
		out = append(out, o.Column)
	}
	return out
}

func dedupIdents(cols []model.Ident) []model.Ident {
	seen := map[model.Ident]bool{}
	var out []model.Ident
	for _, c := range cols {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func intersectCount(pool, candidate []model.Ident) int {
	set := map[model.Ident]bool{}
	for _, c := range candidate {
		set[c] = true
	}
	seen := map[model.Ident]bool{}
	count := 0
	for _, p := range pool {
		if set[p] && !seen[p] {
			seen[p] = true
			count++
		}
	}
	return count
}

// directionsFor builds the direction vector for candidate: ASC for
// equality/range positions, the model's direction for order-key positions.
func directionsFor(candidate []model.Ident, order []model.OrderKey) []model.Direction {
	dirByCol := map[model.Ident]model.Direction{}
	for _, o := range order {
		dirByCol[o.Column] = o.Direction
	}
	out := make([]model.Direction, len(candidate))
	for i, c := range candidate {
		if d, ok := dirByCol[c]; ok {
			out[i] = d
		} else {
			out[i] = model.Asc
		}
	}
	return out
}

// directionsIfNonDefault elides the direction vector when every entry is
// ASC, per §4.6 step 3 ("if the resulting vector is all-ASC ... treated as
// the default").
func directionsIfNonDefault(dirs []model.Direction) []model.Direction {
	for _, d := range dirs {
		if d != model.Asc {
			return dirs
		}
	}
	return nil
}

func rowEstimate(schema *model.SchemaSnapshot, table model.Ident) int64 {
	if schema == nil || schema.RowEstimate == nil {
		return 0
	}
	return schema.RowEstimate[table]
}

func existingIndexes(schema *model.SchemaSnapshot, table model.Ident) []model.IndexDef {
	if schema == nil {
		return nil
	}
	return schema.Tables[table].Indexes
}

// indexCoversPrefix reports whether any existing index already carries
// candidate as a column-name prefix (§4.6 step 4). Directions are not
// compared: model.IndexDef records no per-column direction, so a candidate
// with a non-default direction vector matches an index on the same leading
// columns.
func indexCoversPrefix(existing []model.IndexDef, candidate []model.Ident, directions []model.Direction) bool {
	for _, ix := range existing {
		if len(ix.Columns) < len(candidate) {
			continue
		}
		match := true
		for i, c := range candidate {
			if ix.Columns[i] != c {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func estimateWidth(schema *model.SchemaSnapshot, table model.Ident, cols []model.Ident) int64 {
	var total int64
	for _, c := range cols {
		if schema != nil {
			if def, ok := schema.Column(table, c); ok {
				if def.AvgWidthBytes > 0 {
					total += def.AvgWidthBytes
					continue
				}
				total += def.Kind.DefaultWidthBytes()
				continue
			}
		}
		total += model.KindOther.DefaultWidthBytes()
	}
	return total
}

func indexName(table model.Ident, cols []model.Ident) string {
	safeTable := sanitizeIdent(string(table))
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, sanitizeIdent(string(c)))
	}
	name := "idx_" + safeTable + "_" + strings.Join(parts, "_")
	name = strings.ToLower(name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "tbl"
	}
	return b.String()
}

// columnListDDL renders the column list for the emitted CREATE INDEX
// statement. Direction is never annotated here — Postgres's planner can
// scan a plain ascending index backward at equal cost, and the spec's own
// worked example confirms the DDL string omits it; Directions is recorded
// separately on the Suggestion for callers that want the vector itself.
func columnListDDL(cols []model.Ident) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ", ")
}

func joinIdents(cols []model.Ident, sep string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, sep)
}
