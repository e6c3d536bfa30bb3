// Package validation checks table and column references in generated SQL
// against the schema snapshot. Its findings are advisory.
package validation

import (
	"fmt"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/sqlscribe/sqlscribe/internal/schema"
	"github.com/sqlscribe/sqlscribe/internal/sqltext"
)

// maxTypoDistance bounds the edit distance for table-name typo suggestions.
const maxTypoDistance = 2

type Report struct {
	Issues      []string `json:"validation_issues"`
	Suggestions []string `json:"suggestions"`
}

func (r Report) Empty() bool {
	return len(r.Issues) == 0 && len(r.Suggestions) == 0
}

// Validate reports tables missing from the snapshot and qualified columns that
// their table does not have, with suggestions for likely intended names.
func Validate(sqlText string, snapshot schema.Snapshot) Report {
	report := Report{Issues: []string{}, Suggestions: []string{}}
	if snapshot.Empty() {
		report.Issues = append(report.Issues, "No actual schema loaded")
		report.Suggestions = append(report.Suggestions, "Please check database connection")
		return report
	}

	tableRefs := sqltext.ExtractTableReferences(sqlText)
	seenTables := map[string]struct{}{}
	for _, ref := range tableRefs {
		key := strings.ToLower(ref.Name)
		if _, seen := seenTables[key]; seen {
			continue
		}
		seenTables[key] = struct{}{}
		if _, ok := snapshot.LookupTable(ref.Name); ok {
			continue
		}
		report.Issues = append(report.Issues, fmt.Sprintf("Table '%s' not found in actual database schema", ref.Name))
		for _, candidate := range snapshot.Tables() {
			if !similarName(ref.Name, candidate.Name) {
				continue
			}
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("Did you mean '%s'? Available columns: %s",
				candidate.Name, strings.Join(candidate.Columns, ", ")))
		}
	}

	aliases := sqltext.BindAliases(tableRefs)
	seenColumns := map[string]struct{}{}
	for _, ref := range sqltext.ExtractColumnReferences(sqlText) {
		table, ok := resolveTable(ref.Qualifier, aliases, snapshot)
		if !ok || table.HasColumn(ref.Column) {
			continue
		}
		key := strings.ToLower(table.Name + "." + ref.Column)
		if _, seen := seenColumns[key]; seen {
			continue
		}
		seenColumns[key] = struct{}{}

		report.Issues = append(report.Issues, fmt.Sprintf("Column '%s' not found in table '%s'", ref.Column, table.Name))
		matched := false
		for _, column := range table.Columns {
			if sqltext.ContainsFold(ref.Column, column) {
				report.Suggestions = append(report.Suggestions, fmt.Sprintf("Did you mean '%s.%s'?", table.Name, column))
				matched = true
			}
		}
		if !matched {
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("Available columns in '%s': %s",
				table.Name, strings.Join(table.Columns, ", ")))
		}
	}
	return report
}

// resolveTable maps a qualifier to a snapshot table through the FROM/JOIN
// bindings, falling back to the qualifier as a table name.
func resolveTable(qualifier string, aliases map[string]string, snapshot schema.Snapshot) (schema.Table, bool) {
	if name, ok := aliases[strings.ToLower(qualifier)]; ok {
		if table, ok := snapshot.LookupTable(name); ok {
			return table, true
		}
	}
	return snapshot.LookupTable(qualifier)
}

// similarName matches on containment in either direction, or on a small edit
// distance for same-length-ish typos such as widgetz/widgets.
func similarName(referenced, candidate string) bool {
	if sqltext.ContainsFold(referenced, candidate) {
		return true
	}
	a, b := strings.ToLower(referenced), strings.ToLower(candidate)
	shortest := min(len(a), len(b))
	if shortest < 4 {
		return false
	}
	return smetrics.WagnerFischer(a, b, 1, 1, 1) <= maxTypoDistance
}
