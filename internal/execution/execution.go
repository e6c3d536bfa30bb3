package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/sqltext"
	"github.com/sqlscribe/sqlscribe/internal/store"
)

const DefaultMaxRetries = 3

// minReverseMatch is the shortest live column accepted when it appears inside
// the missing column's name. Shorter names such as "id" match too much.
const minReverseMatch = 3

var nameAlternatives = []string{"title", "service_name", "description", "label"}

var unqualifiedFixes = map[string]string{
	"user_id":    "id",
	"username":   "email",
	"first_name": "firstname",
	"last_name":  "lastname",
	"role_name":  "role",
}

// ColumnSource returns the live columns of a table.
type ColumnSource interface {
	TableColumns(ctx context.Context, table string) ([]string, error)
}

// Fix is one identifier substitution made after an unknown column error.
type Fix struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt"`
}

// Result is a successful execution. Columns and Rows are always both set.
type Result struct {
	Columns  []string
	Rows     [][]any
	SQL      string
	Attempts int
	Fixes    []Fix
}

// Failure reports the store error of the last attempt together with the SQL
// that produced it.
type Failure struct {
	Message string
	Attempt int
	SQL     string
	Fixes   []Fix
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// Coordinator executes SQL and retries after unknown column errors with one
// mechanical substitution per retry.
type Coordinator struct {
	store      store.Executor
	columns    ColumnSource
	maxRetries int
	logger     *slog.Logger
}

// NewCoordinator builds a coordinator. A negative maxRetries selects
// DefaultMaxRetries.
func NewCoordinator(executor store.Executor, columns ColumnSource, maxRetries int, logger *slog.Logger) *Coordinator {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{store: executor, columns: columns, maxRetries: maxRetries, logger: logger}
}

func (c *Coordinator) MaxRetries() int { return c.maxRetries }

// Run executes sqlText. At most MaxRetries+1 store calls are made and no
// query string is ever sent twice.
func (c *Coordinator) Run(ctx context.Context, sqlText string) (Result, error) {
	if c.store == nil {
		return Result{}, fmt.Errorf("store executor is not configured")
	}
	m := newMachine(sqlText, c.maxRetries+1)

	for !m.state.Terminal() {
		switch m.state {
		case StatePending:
			m.attempt++
			m.tried[m.sql] = struct{}{}
			res, err := c.store.Query(ctx, m.sql)
			if err == nil {
				m.result = res
				m.transition(StateSucceeded)
				continue
			}
			m.lastErr = err
			c.logger.WarnContext(ctx, "query attempt failed",
				observability.TraceAttr(ctx),
				slog.Int("attempt", m.attempt),
				slog.String("sql", m.sql),
				slog.Any("error", err),
			)
			if m.attempt >= m.maxCalls || ctx.Err() != nil {
				m.transition(StateFailed)
				continue
			}
			fixed, fix, ok := c.autoFix(ctx, m.sql, err)
			if !ok {
				m.transition(StateFailed)
				continue
			}
			if _, seen := m.tried[fixed]; seen {
				observability.ObserveAutoFix(observability.AutoFixRepeated)
				m.transition(StateFailed)
				continue
			}
			observability.ObserveAutoFix(observability.AutoFixApplied)
			fix.Attempt = m.attempt
			m.fixes = append(m.fixes, fix)
			c.logger.InfoContext(ctx, "auto-fixed unknown column",
				observability.TraceAttr(ctx),
				slog.String("from", fix.From),
				slog.String("to", fix.To),
				slog.Int("attempt", m.attempt),
			)
			m.sql = fixed
			m.transition(StateCorrected)
		case StateCorrected:
			m.transition(StatePending)
		}
	}

	observability.ObserveExecutionAttempts(m.attempt)
	if m.state == StateFailed {
		return Result{}, m.failure()
	}
	columns := m.result.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := m.result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return Result{
		Columns:  columns,
		Rows:     rows,
		SQL:      m.sql,
		Attempts: m.attempt,
		Fixes:    m.fixes,
	}, nil
}

// autoFix derives a single substitution from an unknown column error.
func (c *Coordinator) autoFix(ctx context.Context, sqlText string, queryErr error) (string, Fix, bool) {
	message := queryErr.Error()
	if !strings.Contains(message, "Unknown column") {
		return "", Fix{}, false
	}
	identifier, ok := store.UnknownColumnIdentifier(message)
	if !ok {
		observability.ObserveAutoFix(observability.AutoFixNoFix)
		return "", Fix{}, false
	}

	qualifier, column, qualified := strings.Cut(identifier, ".")
	if !qualified {
		replacement, ok := unqualifiedFixes[strings.ToLower(identifier)]
		if !ok {
			observability.ObserveAutoFix(observability.AutoFixNoFix)
			return "", Fix{}, false
		}
		fixed := sqltext.ReplaceBareIdentifier(sqlText, identifier, replacement)
		if fixed == sqlText {
			observability.ObserveAutoFix(observability.AutoFixNoFix)
			return "", Fix{}, false
		}
		return fixed, Fix{From: identifier, To: replacement}, true
	}

	table, ok := sqltext.ResolveQualifier(sqlText, qualifier)
	if !ok || c.columns == nil {
		observability.ObserveAutoFix(observability.AutoFixNoFix)
		return "", Fix{}, false
	}
	live, err := c.columns.TableColumns(ctx, table)
	if err != nil {
		c.logger.WarnContext(ctx, "auto-fix column lookup failed",
			slog.String("table", table),
			slog.Any("error", err),
		)
		observability.ObserveAutoFix(observability.AutoFixNoFix)
		return "", Fix{}, false
	}
	candidate, ok := similarColumn(column, live)
	if !ok {
		observability.ObserveAutoFix(observability.AutoFixNoFix)
		return "", Fix{}, false
	}
	from := qualifier + "." + column
	to := qualifier + "." + candidate
	return sqltext.ReplaceIdentifier(sqlText, from, to), Fix{From: from, To: to}, true
}

// similarColumn picks the first live column whose name contains, or is
// contained in, the missing one. For "name" a fixed list of common
// alternatives is tried next.
func similarColumn(missing string, live []string) (string, bool) {
	lowerMissing := strings.ToLower(missing)
	for _, column := range live {
		lowerColumn := strings.ToLower(column)
		if lowerColumn == lowerMissing {
			continue
		}
		if strings.Contains(lowerColumn, lowerMissing) {
			return column, true
		}
		if len(lowerColumn) >= minReverseMatch && strings.Contains(lowerMissing, lowerColumn) {
			return column, true
		}
	}
	if lowerMissing == "name" {
		for _, alternative := range nameAlternatives {
			for _, column := range live {
				if strings.EqualFold(column, alternative) {
					return column, true
				}
			}
		}
	}
	return "", false
}
