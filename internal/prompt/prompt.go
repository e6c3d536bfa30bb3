package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/schema"
)

// SchemaUnavailable is returned in place of a prompt when no schema is loaded.
const SchemaUnavailable = "ERROR: No schema loaded. Please check database connection."

const (
	defaultDialect = "MySQL"
	defaultPersona = "a friendly and professional assistant"

	exampleColumns = 3
	summaryRecords = 10
)

func IsSchemaUnavailable(prompt string) bool {
	return prompt == SchemaUnavailable
}

// Builder renders the prompts sent to the completion backend.
type Builder struct {
	// Dialect names the SQL engine, e.g. "PostgreSQL".
	Dialect string
	// Persona is who the summary answer speaks as.
	Persona string
}

// SQLPrompt pins the model to the exact tables and columns of snapshot.
// Tables are listed in name order so identical snapshots give identical
// prompts.
func (b Builder) SQLPrompt(snapshot schema.Snapshot, question string) string {
	if snapshot.Empty() {
		return SchemaUnavailable
	}
	tables := snapshot.Tables()

	var out strings.Builder
	fmt.Fprintf(&out, "You are a %s query generator. You MUST use ONLY the exact columns from the actual database schema below.\n\n", b.dialect())
	out.WriteString("CRITICAL: USE ONLY THESE EXACT COLUMNS FROM THE ACTUAL DATABASE. NO EXCEPTIONS.\n\n")
	for _, table := range tables {
		fmt.Fprintf(&out, "Table: %s\n", table.Name)
		fmt.Fprintf(&out, "Available Columns: %s\n", strings.Join(table.Columns, ", "))
		if table.PrimaryKey != "" {
			fmt.Fprintf(&out, "Primary Key: %s\n", table.PrimaryKey)
		}
		out.WriteString("\n")
	}

	out.WriteString("EXAMPLE QUERIES USING ACTUAL COLUMNS:\n")
	for _, table := range tables {
		columns := table.Columns
		if len(columns) > exampleColumns {
			columns = columns[:exampleColumns]
		}
		fmt.Fprintf(&out, "SELECT %s FROM %s;\n", strings.Join(columns, ", "), table.Name)
	}

	out.WriteString(`
ABSOLUTE RULES:
1. NEVER use columns that are NOT in the "Available Columns" list above
2. NEVER assume column names - ONLY use what's explicitly shown
3. If you need a column that doesn't exist, use the closest available column
4. ONLY use table names and column names from the schema above
5. Before writing any query, CHECK that every column exists in the schema
6. DO NOT use common column names like 'name', 'title', 'description' unless they appear in the Available Columns list

VERIFICATION PROCESS:
1. Look at the user question
2. Identify which table(s) you need
3. Check the "Available Columns" for each table
4. Write SQL using ONLY those exact columns
5. Double-check every column name against the schema

`)
	fmt.Fprintf(&out, "User Question: \"%s\"\n\n", question)
	out.WriteString("Generate a SQL query using ONLY the columns listed in the schema above. Verify each column exists before using it!\n\nSQL Query:")
	return out.String()
}

// SummaryPrompt asks for a plain-language answer built from dataSummary.
func (b Builder) SummaryPrompt(question, dataSummary string) string {
	persona := strings.TrimSpace(b.Persona)
	if persona == "" {
		persona = defaultPersona
	}
	return fmt.Sprintf(`You are %s. Speak like a helpful person, not a machine or SQL tool.

Task:
- The user asked: "%s"
- Here are the results:
%s

What to do:
- Explain the results in warm, clear language.
- Summarize the important details of each record.
- Offer a relevant follow-up question when it helps the user.
- Do NOT mention SQL, databases, or queries at all.

Now write that response:
`, persona, question, dataSummary)
}

func (b Builder) dialect() string {
	if strings.TrimSpace(b.Dialect) == "" {
		return defaultDialect
	}
	return b.Dialect
}

// SummarizeRows renders up to ten rows as JSON records for the summary
// prompt, keeping column order.
func SummarizeRows(columns []string, rows [][]any) string {
	if len(rows) == 0 {
		return "No records found matching your criteria."
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Found %d records:\n\n", len(rows))
	for i, row := range rows {
		if i == summaryRecords {
			break
		}
		fmt.Fprintf(&out, "Record %d: %s\n", i+1, recordJSON(columns, row))
	}
	if len(rows) > summaryRecords {
		fmt.Fprintf(&out, "\n... and %d more records.", len(rows)-summaryRecords)
	}
	return out.String()
}

func recordJSON(columns []string, row []any) string {
	if len(columns) == 0 {
		return fmt.Sprint(row)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, column := range columns {
		if i > 0 {
			buf.WriteString(", ")
		}
		key, _ := json.Marshal(column)
		buf.Write(key)
		buf.WriteString(": ")
		var value any
		if i < len(row) {
			value = row[i]
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			encoded, _ = json.Marshal(fmt.Sprint(value))
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.String()
}
