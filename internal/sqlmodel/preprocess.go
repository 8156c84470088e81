package sqlmodel

import "regexp"

// The parser this package wraps targets the MySQL dialect. These
// substitutions bring the common Postgres-only surface syntax this engine's
// inputs use into something the parser accepts, following the same
// textual-rewrite-before-parse approach used for that parser's own dialect
// quirks (e.g. its WITH-clause-to-COMMENT rewrite). None of this touches
// clause semantics the model cares about (FROM/WHERE/JOIN/ORDER
// BY/GROUP BY/LIMIT); it only reshapes tokens the grammar would otherwise
// reject outright.
var (
	reILike       = regexp.MustCompile(`(?i)\bILIKE\b`)
	reCast        = regexp.MustCompile(`::[A-Za-z_][A-Za-z0-9_]*(\([0-9,\s]*\))?`)
	reDollarParam = regexp.MustCompile(`\$[0-9]+`)
	reReturning   = regexp.MustCompile(`(?i)\bRETURNING\b.*$`)
)

// preprocess rewrites Postgres-only tokens so the statement has a chance of
// parsing; it never changes the query's relations, predicates, or clause
// structure.
func preprocess(sql string) string {
	s := reILike.ReplaceAllString(sql, "LIKE")
	s = reCast.ReplaceAllString(s, "")
	s = reDollarParam.ReplaceAllString(s, "?")
	s = reReturning.ReplaceAllString(s, "")
	return s
}
