package schema

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"time"
)

// Table describes one relational table as seen by the last refresh.
type Table struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	PrimaryKey string   `json:"primary_key,omitempty"`
}

// HasColumn reports whether the table has the named column, ignoring case.
func (t Table) HasColumn(name string) bool {
	for _, column := range t.Columns {
		if strings.EqualFold(column, name) {
			return true
		}
	}
	return false
}

// Column is the detailed description returned by live discovery.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"null"`
	Key      string  `json:"key"`
	Default  *string `json:"default"`
	Extra    string  `json:"extra"`
}

// Introspector reads schema metadata from the relational store.
type Introspector interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
	PrimaryKey(ctx context.Context, table string) (string, error)
}

// Snapshot is an immutable capture of table metadata. The zero value is the
// empty snapshot.
type Snapshot struct {
	tables     map[string]Table
	folded     map[string]string
	capturedAt time.Time
}

// NewSnapshot copies tables into a new snapshot. Tables without columns are
// dropped.
func NewSnapshot(tables []Table, capturedAt time.Time) Snapshot {
	snapshot := Snapshot{
		tables:     make(map[string]Table, len(tables)),
		folded:     make(map[string]string, len(tables)),
		capturedAt: capturedAt.UTC(),
	}
	for _, table := range tables {
		if table.Name == "" || len(table.Columns) == 0 {
			continue
		}
		table.Columns = slices.Clone(table.Columns)
		snapshot.tables[table.Name] = table
		key := strings.ToLower(table.Name)
		if _, exists := snapshot.folded[key]; !exists {
			snapshot.folded[key] = table.Name
		}
	}
	return snapshot
}

func (s Snapshot) Empty() bool { return len(s.tables) == 0 }

func (s Snapshot) Len() int { return len(s.tables) }

func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }

// LookupTable finds a table by name. An exact match wins, otherwise the match
// is case-insensitive.
func (s Snapshot) LookupTable(name string) (Table, bool) {
	if table, ok := s.tables[name]; ok {
		return cloneTable(table), true
	}
	exact, ok := s.folded[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	return cloneTable(s.tables[exact]), true
}

// TableNames returns the table names in sorted order.
func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables returns all tables sorted by name.
func (s Snapshot) Tables() []Table {
	names := s.TableNames()
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, cloneTable(s.tables[name]))
	}
	return tables
}

type tableJSON struct {
	Columns    []string `json:"columns"`
	PrimaryKey *string  `json:"primary_key"`
}

// MarshalJSON renders the snapshot as a table name to {columns, primary_key} map.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]tableJSON, len(s.tables))
	for name, table := range s.tables {
		entry := tableJSON{Columns: table.Columns}
		if table.PrimaryKey != "" {
			pk := table.PrimaryKey
			entry.PrimaryKey = &pk
		}
		out[name] = entry
	}
	return json.Marshal(out)
}

func cloneTable(table Table) Table {
	table.Columns = slices.Clone(table.Columns)
	return table
}
