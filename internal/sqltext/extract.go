// Package sqltext holds the lexical, regex-based view of SQL used across the
// pipeline. Nothing here parses SQL; callers get best-effort token matches.
package sqltext

import (
	"regexp"
	"strings"
)

var (
	fencePattern     = regexp.MustCompile("```(?:sql)?")
	statementPattern = regexp.MustCompile(`(?is)\b(?:SELECT|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|DESCRIBE)\b.+?;`)
	linePattern      = regexp.MustCompile(`(?i)^\s*(?:SELECT|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|DESCRIBE)\b`)
)

// Extract pulls a single SQL statement out of free-form model output. It tries,
// in order: the first keyword-led statement ending at a semicolon, the first
// line starting with a statement keyword, and finally the whole trimmed text.
func Extract(raw string) string {
	if raw == "" {
		return ""
	}
	text := fencePattern.ReplaceAllString(raw, "")
	text = strings.ReplaceAll(text, "\u00a0", " ")

	if match := statementPattern.FindString(text); match != "" {
		return strings.TrimSpace(match)
	}
	for _, line := range strings.Split(text, "\n") {
		if linePattern.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return strings.TrimSpace(text)
}

var readOnlyPrefixes = []string{"select", "with", "show", "describe", "desc", "explain"}

// IsReadOnly reports whether the statement starts with a keyword that cannot
// modify data.
func IsReadOnly(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	for _, prefix := range readOnlyPrefixes {
		if !strings.HasPrefix(normalized, prefix) {
			continue
		}
		rest := normalized[len(prefix):]
		if rest == "" || !isWordByte(rest[0]) {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
