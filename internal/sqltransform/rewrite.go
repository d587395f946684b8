package sqltransform

import (
	"fmt"
	"regexp"
	"strings"
)

// viewName returns the temporary view name a source alias is bound to for
// one job run.
func viewName(alias string, jobID int64) string {
	return fmt.Sprintf("sql_transform_%s_%d", alias, jobID)
}

// rewriteSQL implements SPEC_FULL §4.G validation step 2: every alias is
// replaced by its bound view name, both as a bare table reference
// (FROM/JOIN position) and as an `alias.column` prefix. Word-boundary
// matching keeps it from touching alias-looking substrings inside longer
// identifiers. Text inside single-quoted string literals is left alone:
// only the segments between literals are rewritten.
func rewriteSQL(sql string, sources []Source, jobID int64) string {
	// even-indexed segments lie outside single-quoted literals
	segments := strings.Split(sql, "'")
	for _, src := range sources {
		view := viewName(src.Alias, jobID)

		// alias.column -> view.column
		prefixRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(src.Alias) + `\.`)

		// bare alias as a FROM/JOIN table reference
		tableRe := regexp.MustCompile(`(?i)(\bFROM\s+|\bJOIN\s+)` + regexp.QuoteMeta(src.Alias) + `\b`)

		for i := 0; i < len(segments); i += 2 {
			segments[i] = prefixRe.ReplaceAllString(segments[i], view+".")
			segments[i] = tableRe.ReplaceAllString(segments[i], "${1}"+view)
		}
	}
	return strings.Join(segments, "'")
}
