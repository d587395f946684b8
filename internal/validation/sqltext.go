// Package validation implements the SQL-transform validation pipeline
// (SPEC_FULL §4.G): syntax sanity, a security denylist, semantic
// alias/column resolution against a commit's schema, and performance
// warnings. Validators compose with Chain, adapted from the teacher's
// composable IssueValidator pattern (internal/validation/issue.go).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// SQLValidator checks one concern of a user-submitted SQL string and
// returns an error if validation fails.
type SQLValidator func(sql string) error

// Chain composes validators in order; the first error stops the chain.
func Chain(validators ...SQLValidator) SQLValidator {
	return func(sql string) error {
		for _, v := range validators {
			if err := v(sql); err != nil {
				return err
			}
		}
		return nil
	}
}

// denylistKeywords are statement types a user-submitted SQL transformation
// must never contain (SPEC_FULL §4.G): only a read-only SELECT is allowed.
var denylistKeywords = []string{
	"DROP", "CREATE", "ALTER", "TRUNCATE", "DELETE", "UPDATE", "INSERT",
	"GRANT", "REVOKE", "EXECUTE", "CALL", "EXEC", "MERGE", "REPLACE",
	"RENAME", "COMMENT",
}

var systemSchemaRefs = []string{"INFORMATION_SCHEMA", "PG_", "SYS.", "MYSQL."}

// NoDenylistedKeywords rejects any occurrence of a write/DDL keyword,
// matched as a whole word so substrings like "updated_at" don't false-positive.
func NoDenylistedKeywords() SQLValidator {
	return func(sql string) error {
		upper := strings.ToUpper(sql)
		for _, kw := range denylistKeywords {
			if containsWord(upper, kw) {
				return fmt.Errorf("sql contains denylisted keyword %q", kw)
			}
		}
		return nil
	}
}

// NoComments rejects line and block comments, which can otherwise be used
// to smuggle a denylisted construct past naive keyword scanning.
func NoComments() SQLValidator {
	return func(sql string) error {
		if strings.Contains(sql, "--") {
			return fmt.Errorf("sql must not contain line comments")
		}
		if strings.Contains(sql, "/*") || strings.Contains(sql, "*/") {
			return fmt.Errorf("sql must not contain block comments")
		}
		return nil
	}
}

// NoSystemSchemaRefs rejects references to system catalogs.
func NoSystemSchemaRefs() SQLValidator {
	return func(sql string) error {
		upper := strings.ToUpper(sql)
		for _, ref := range systemSchemaRefs {
			if strings.Contains(upper, ref) {
				return fmt.Errorf("sql must not reference system schema %q", ref)
			}
		}
		return nil
	}
}

// MustBeSelect is a minimal syntax check: the statement, once denylisted
// keywords are ruled out, must still begin with SELECT or WITH (a CTE).
func MustBeSelect() SQLValidator {
	return func(sql string) error {
		trimmed := strings.TrimSpace(sql)
		upper := strings.ToUpper(trimmed)
		if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
			return fmt.Errorf("sql must be a read-only SELECT or WITH statement")
		}
		return nil
	}
}

// WarnSelectStar returns a non-fatal performance warning (not an error) when
// the query selects every column. Nothing in the module calls it; the
// preview and the executor report sqltransform.PerformanceWarnings instead.
func WarnSelectStar(sql string) (warning string, ok bool) {
	if regexp.MustCompile(`(?i)select\s+\*`).MatchString(sql) {
		return "selecting all columns (SELECT *) may be wider than the destination table expects", true
	}
	return "", false
}

// DefaultSecurityChain is the standard security pass every transformation
// SQL string must clear before semantic validation runs.
func DefaultSecurityChain() SQLValidator {
	return Chain(NoComments(), NoDenylistedKeywords(), NoSystemSchemaRefs(), MustBeSelect())
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos == -1 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isIdentChar(haystack[start-1])
		afterOK := end == len(haystack) || !isIdentChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
