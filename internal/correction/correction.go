// Package correction rewrites identifiers that language models habitually get
// wrong for this schema. The rules are fixed knowledge about past mismatches,
// not derived from the live snapshot.
package correction

import (
	"regexp"
)

// Rule rewrites every match of Pattern with Replacement. Replacement may refer
// to capture groups with ${n}.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
	Description string
}

// DefaultRules returns the built-in rule list in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern:     regexp.MustCompile(`(?i)\busers\.user_id\b`),
			Replacement: "users.id",
			Description: "users.user_id -> users.id",
		},
		{
			// RE2 has no lookahead, so the trailing context is captured and
			// written back.
			Pattern:     regexp.MustCompile(`(?i)\bu\.user_id\b(\s*(?:,|FROM\b|ORDER\b|GROUP\b))`),
			Replacement: "u.id${1}",
			Description: "u.user_id -> u.id (when selecting from users)",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\busername\b`),
			Replacement: "email",
			Description: "username -> email",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\bfirst_name\b`),
			Replacement: "firstname",
			Description: "first_name -> firstname",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\blast_name\b`),
			Replacement: "lastname",
			Description: "last_name -> lastname",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\brole_name\b`),
			Replacement: "role",
			Description: "role_name -> role",
		},
	}
}

type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over rules; a nil slice selects DefaultRules.
func NewEngine(rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{rules: append([]Rule(nil), rules...)}
}

// Apply runs every rule top to bottom over sqlText. Each matching rule rewrites
// the working text before the next rule is evaluated and contributes its
// description to the returned log.
func (e *Engine) Apply(sqlText string) (string, []string) {
	corrected := sqlText
	applied := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Pattern == nil || !rule.Pattern.MatchString(corrected) {
			continue
		}
		corrected = rule.Pattern.ReplaceAllString(corrected, rule.Replacement)
		applied = append(applied, rule.Description)
	}
	return corrected, applied
}

func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}
