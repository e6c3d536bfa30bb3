package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/observability"
)

// TableDescription is one table of a live discovery run.
type TableDescription struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Registry owns the current schema snapshot. Refresh builds a new snapshot and
// swaps it in; readers keep whatever snapshot value they already hold.
type Registry struct {
	introspector Introspector
	logger       *slog.Logger
	now          func() time.Time

	refreshMu sync.Mutex
	current   atomic.Pointer[Snapshot]
}

func NewRegistry(introspector Introspector, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		introspector: introspector,
		logger:       logger,
		now:          time.Now,
	}
	r.current.Store(&Snapshot{})
	return r
}

// Current returns the latest snapshot, or the empty snapshot when no refresh
// has succeeded since the last failure.
func (r *Registry) Current() Snapshot {
	snapshot := r.current.Load()
	if snapshot == nil {
		return Snapshot{}
	}
	return *snapshot
}

// Refresh replaces the snapshot with a fresh capture of the store's schema. On
// failure the registry falls back to the empty snapshot and the error is
// returned after being logged.
func (r *Registry) Refresh(ctx context.Context) (Snapshot, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	snapshot, err := r.capture(ctx)
	if err != nil {
		r.current.Store(&Snapshot{})
		observability.ObserveSchemaRefresh(0, err)
		r.logger.ErrorContext(ctx, "schema refresh failed", slog.Any("error", err))
		return Snapshot{}, err
	}

	r.current.Store(&snapshot)
	observability.ObserveSchemaRefresh(snapshot.Len(), nil)
	r.logger.InfoContext(ctx, "schema refreshed",
		slog.Int("tables", snapshot.Len()),
		slog.Any("table_names", snapshot.TableNames()),
	)
	return snapshot, nil
}

func (r *Registry) capture(ctx context.Context) (Snapshot, error) {
	if r.introspector == nil {
		return Snapshot{}, errors.New("schema introspector is not configured")
	}
	names, err := r.introspector.ListTables(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		columns, err := r.introspector.DescribeTable(ctx, name)
		if err != nil {
			return Snapshot{}, fmt.Errorf("describe table %q: %w", name, err)
		}
		if len(columns) == 0 {
			r.logger.WarnContext(ctx, "skipping table without columns", slog.String("table", name))
			continue
		}
		primaryKey, err := r.introspector.PrimaryKey(ctx, name)
		if err != nil {
			return Snapshot{}, fmt.Errorf("primary key for table %q: %w", name, err)
		}
		tables = append(tables, Table{
			Name:       name,
			Columns:    columnNames(columns),
			PrimaryKey: primaryKey,
		})
	}
	return NewSnapshot(tables, r.now()), nil
}

// TableColumns fetches the live column list for one table, bypassing the
// snapshot.
func (r *Registry) TableColumns(ctx context.Context, table string) ([]string, error) {
	if r.introspector == nil {
		return nil, errors.New("schema introspector is not configured")
	}
	columns, err := r.introspector.DescribeTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	return columnNames(columns), nil
}

// Discover describes every table in detail without touching the snapshot.
func (r *Registry) Discover(ctx context.Context) ([]TableDescription, error) {
	if r.introspector == nil {
		return nil, errors.New("schema introspector is not configured")
	}
	names, err := r.introspector.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make([]TableDescription, 0, len(names))
	for _, name := range names {
		columns, err := r.introspector.DescribeTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe table %q: %w", name, err)
		}
		out = append(out, TableDescription{Name: name, Columns: columns})
	}
	return out, nil
}

func columnNames(columns []Column) []string {
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, column.Name)
	}
	return names
}
