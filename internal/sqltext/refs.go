package sqltext

import (
	"regexp"
	"strings"
)

// TableRef is a table named after FROM or JOIN, with its alias when present.
type TableRef struct {
	Name  string
	Alias string
}

// ColumnRef is a qualified qualifier.column token.
type ColumnRef struct {
	Qualifier string
	Column    string
}

var (
	tableRefPattern  = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(\w+)`)
	aliasPattern     = regexp.MustCompile(`(?i)^\s+(?:AS\s+)?(\w+)`)
	columnRefPattern = regexp.MustCompile(`\b(\w+)\.(\w+)\b`)
)

// clauseKeywords may directly follow a table name and are never aliases.
var clauseKeywords = map[string]struct{}{
	"where": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {}, "outer": {},
	"cross": {}, "natural": {}, "straight_join": {}, "on": {}, "using": {}, "group": {},
	"order": {}, "limit": {}, "offset": {}, "having": {}, "union": {}, "except": {},
	"intersect": {}, "window": {}, "for": {}, "set": {}, "values": {}, "into": {},
	"and": {}, "or": {}, "as": {}, "lock": {}, "procedure": {}, "returning": {},
}

// qualifierKeywords are words that can precede a dot without naming a table.
var qualifierKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "order": {}, "group": {},
}

// ExtractTableReferences returns every FROM/JOIN table reference in textual
// order.
func ExtractTableReferences(sqlText string) []TableRef {
	matches := tableRefPattern.FindAllStringSubmatchIndex(sqlText, -1)
	refs := make([]TableRef, 0, len(matches))
	for _, match := range matches {
		ref := TableRef{Name: sqlText[match[2]:match[3]]}
		// The alias is matched separately so a following JOIN keyword is
		// never consumed as an alias.
		if alias := aliasPattern.FindStringSubmatch(sqlText[match[1]:]); alias != nil && !isClauseKeyword(alias[1]) {
			ref.Alias = alias[1]
		}
		refs = append(refs, ref)
	}
	return refs
}

// ExtractColumnReferences returns every qualifier.column token in textual
// order, skipping keyword qualifiers.
func ExtractColumnReferences(sqlText string) []ColumnRef {
	matches := columnRefPattern.FindAllStringSubmatch(sqlText, -1)
	refs := make([]ColumnRef, 0, len(matches))
	for _, match := range matches {
		if _, skip := qualifierKeywords[strings.ToLower(match[1])]; skip {
			continue
		}
		refs = append(refs, ColumnRef{Qualifier: match[1], Column: match[2]})
	}
	return refs
}

// BindAliases maps lower-cased aliases and table names to the table they
// reference. The first declaration of an alias wins.
func BindAliases(refs []TableRef) map[string]string {
	bindings := make(map[string]string, len(refs)*2)
	for _, ref := range refs {
		if ref.Alias != "" {
			key := strings.ToLower(ref.Alias)
			if _, exists := bindings[key]; !exists {
				bindings[key] = ref.Name
			}
		}
	}
	for _, ref := range refs {
		key := strings.ToLower(ref.Name)
		if _, exists := bindings[key]; !exists {
			bindings[key] = ref.Name
		}
	}
	return bindings
}

// ResolveQualifier finds the table a qualifier refers to within sqlText.
func ResolveQualifier(sqlText, qualifier string) (string, bool) {
	table, ok := BindAliases(ExtractTableReferences(sqlText))[strings.ToLower(qualifier)]
	return table, ok
}

// ReplaceIdentifier replaces every whole-token, case-insensitive occurrence of
// from with to.
func ReplaceIdentifier(sqlText, from, to string) string {
	if from == "" {
		return sqlText
	}
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
	return pattern.ReplaceAllLiteralString(sqlText, to)
}

// ReplaceBareIdentifier is ReplaceIdentifier restricted to unqualified
// occurrences: a match directly after a dot, optionally through an opening
// quote, belongs to another table and is left alone.
func ReplaceBareIdentifier(sqlText, from, to string) string {
	if from == "" {
		return sqlText
	}
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
	var out strings.Builder
	last := 0
	for _, loc := range pattern.FindAllStringIndex(sqlText, -1) {
		if qualifiedAt(sqlText, loc[0]) {
			continue
		}
		out.WriteString(sqlText[last:loc[0]])
		out.WriteString(to)
		last = loc[1]
	}
	out.WriteString(sqlText[last:])
	return out.String()
}

func qualifiedAt(sqlText string, start int) bool {
	i := start - 1
	if i >= 0 && (sqlText[i] == '`' || sqlText[i] == '"') {
		i--
	}
	return i >= 0 && sqlText[i] == '.'
}

// ContainsFold reports whether either string contains the other, ignoring case.
func ContainsFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

func isClauseKeyword(word string) bool {
	_, ok := clauseKeywords[strings.ToLower(word)]
	return ok
}
