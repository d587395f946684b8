package sqltransform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dataset-commons/dataset-engine/internal/validation"
)

// syntaxCheck implements SPEC_FULL §4.G validation step 1: non-empty,
// balanced parentheses and quotes, and a SELECT must contain a FROM.
func syntaxCheck(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("sql must not be empty")
	}
	if depth := parenDepth(trimmed); depth != 0 {
		return fmt.Errorf("sql has unbalanced parentheses")
	}
	if strings.Count(trimmed, "'")%2 != 0 {
		return fmt.Errorf("sql has an unbalanced quote")
	}
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "SELECT") && !strings.Contains(upper, "FROM") {
		return fmt.Errorf("sql SELECT must contain a FROM clause")
	}
	return nil
}

func parenDepth(s string) int {
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		}
	}
	return depth
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
var fromJoinRefRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)`)
var cteNameRe = regexp.MustCompile(`(?i)\b([A-Za-z_][A-Za-z0-9_]*)\s+AS\s*\(`)

// semanticCheck implements SPEC_FULL §4.G validation step 3: every
// FROM/JOIN table reference must resolve to either a configured source
// alias or a CTE/subquery alias defined within the SQL itself.
func semanticCheck(sql string, sources []Source) error {
	known := map[string]bool{}
	for _, s := range sources {
		known[strings.ToLower(s.Alias)] = true
	}
	for _, m := range cteNameRe.FindAllStringSubmatch(sql, -1) {
		known[strings.ToLower(m[1])] = true
	}

	scrubbed := stripLiterals(sql)
	for _, m := range fromJoinRefRe.FindAllStringSubmatch(scrubbed, -1) {
		ref := strings.ToLower(m[1])
		if sqlKeyword(ref) {
			continue
		}
		if !known[ref] {
			return fmt.Errorf("sql references unknown table or alias %q", m[1])
		}
	}
	return nil
}

var reservedAfterFrom = map[string]bool{
	"select": true, "lateral": true, "only": true,
}

func sqlKeyword(word string) bool {
	return reservedAfterFrom[word]
}

// stripLiterals blanks out single-quoted string literals (quotes included)
// so keyword/alias scanning never matches text that merely looks like SQL
// inside a literal. Numeric literals are left as they are.
func stripLiterals(sql string) string {
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == '\'' {
			inQuote = !inQuote
			b.WriteByte(' ')
			continue
		}
		if inQuote {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// DefaultValidator composes validation.DefaultSecurityChain with the syntax
// check.
// Semantic validation runs separately since it needs the job's sources.
var DefaultValidator = validation.Chain(validation.DefaultSecurityChain(), syntaxCheck)
