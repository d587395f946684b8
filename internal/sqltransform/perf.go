package sqltransform

import (
	"regexp"
	"strings"
)

var (
	selectStarRe    = regexp.MustCompile(`(?i)select\s+\*`)
	notInRe         = regexp.MustCompile(`(?i)\bNOT\s+IN\b`)
	leadingLikeRe   = regexp.MustCompile(`(?i)LIKE\s+'%`)
	orRe            = regexp.MustCompile(`(?i)\bOR\b`)
	distinctRe      = regexp.MustCompile(`(?i)\bDISTINCT\b`)
	crossProductRe  = regexp.MustCompile(`(?i)FROM\s+[A-Za-z_][A-Za-z0-9_]*\s*,\s*[A-Za-z_][A-Za-z0-9_]*`)
	whereFuncCallRe = regexp.MustCompile(`(?i)WHERE[\s\S]*?[A-Za-z_][A-Za-z0-9_]*\(`)
)

// PerformanceWarnings implements SPEC_FULL §4.G validation step 4: every
// flagged construct is non-fatal, surfaced to the caller alongside a
// preview or submission response.
func PerformanceWarnings(sql string) []string {
	var warnings []string
	if selectStarRe.MatchString(sql) {
		warnings = append(warnings, "SELECT * may be wider than the destination table expects")
	}
	if notInRe.MatchString(sql) {
		warnings = append(warnings, "NOT IN can perform poorly and behaves unexpectedly with NULLs; consider NOT EXISTS")
	}
	if leadingLikeRe.MatchString(sql) {
		warnings = append(warnings, "a leading-wildcard LIKE cannot use an index")
	}
	if orRe.MatchString(sql) {
		warnings = append(warnings, "disjunctive OR conditions can prevent index usage")
	}
	if distinctRe.MatchString(sql) {
		warnings = append(warnings, "DISTINCT forces a sort or hash aggregate over the full result set")
	}
	if crossProductRe.MatchString(sql) {
		warnings = append(warnings, "comma-joined FROM list may produce a cross product")
	}
	if whereIdx := strings.Index(strings.ToUpper(sql), "WHERE"); whereIdx >= 0 && whereFuncCallRe.MatchString(sql) {
		warnings = append(warnings, "a function call in WHERE can prevent index usage")
	}
	return warnings
}
