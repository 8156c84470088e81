package sqlmodel

import (
	"regexp"
	"strings"

	"github.com/queryopt/engine/internal/model"
)

// These patterns recover just enough of a statement's shape — the relations
// it touches — to let the linter report PARSE_ERROR and the rest of the
// pipeline degrade gracefully rather than abort, for SQL the TiDB-dialect
// parser rejects outright (Postgres constructs like window frames, LATERAL,
// or CTEs preprocess.go does not attempt to normalize).
var (
	reFromTable = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_.]*)\s*(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*)?`)
	reJoinTable = regexp.MustCompile(`(?i)\bJOIN\s+([A-Za-z_][A-Za-z0-9_.]*)\s*(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*)?`)
)

// fallbackModel builds a best-effort QueryModel by regex when no AST is
// available. It always sets ParseError and StatementOther, so callers can
// distinguish a degraded model from a fully parsed one.
func fallbackModel(sql, reason string) *model.QueryModel {
	qm := &model.QueryModel{
		StatementKind:    model.StatementOther,
		SQL:              sql,
		OpaqueProjection: true,
		ParseError:       reason,
	}

	seen := map[string]bool{}
	addMatch := func(m []string) {
		if len(m) == 0 {
			return
		}
		name := strings.ToLower(m[1])
		if seen[name] {
			return
		}
		seen[name] = true
		rel := model.Relation{Name: model.Ident(name)}
		if len(m) > 2 && m[2] != "" {
			rel.Alias = model.Ident(strings.ToLower(m[2]))
		}
		qm.Relations = append(qm.Relations, rel)
	}
	addMatch(reFromTable.FindStringSubmatch(sql))
	for _, m := range reJoinTable.FindAllStringSubmatch(sql, -1) {
		addMatch(m)
	}

	return qm
}
