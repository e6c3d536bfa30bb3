package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/schema"
	"github.com/sqlscribe/sqlscribe/internal/store"
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Store runs generated SQL and schema introspection against one database.
type Store struct {
	db           *sql.DB
	dialect      dialect
	databaseName string
	queryTimeout time.Duration
}

var (
	_ store.Executor      = (*Store)(nil)
	_ store.Pinger        = (*Store)(nil)
	_ schema.Introspector = (*Store)(nil)
)

// Open builds the connection pool without contacting the server. An
// unreachable database surfaces on the first Ping or query, so callers can
// start in a degraded mode and recover once the server is back.
func Open(cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if d.name != DriverDuckDB && strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	dsn, databaseName, err := d.prepareDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.name, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s, err := New(db, d.name, cfg.QueryTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.databaseName = databaseName
	return s, nil
}

// New wraps an already opened pool. driver selects the dialect used for
// introspection queries and error normalization.
func New(db *sql.DB, driver string, queryTimeout time.Duration) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d, queryTimeout: queryTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Driver() string { return s.dialect.name }

// DialectName is the human readable engine name used in prompts.
func (s *Store) DialectName() string { return s.dialect.displayName }

func (s *Store) DatabaseName() string { return s.databaseName }

// SetDatabaseName overrides the name derived from the DSN.
func (s *Store) SetDatabaseName(name string) {
	if strings.TrimSpace(name) != "" {
		s.databaseName = strings.TrimSpace(name)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s db: %w", s.dialect.name, err)
	}
	return nil
}

// Query executes sqlText on a dedicated connection and materializes every row.
func (s *Store) Query(ctx context.Context, sqlText string) (store.Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return store.Result{}, fmt.Errorf("sql is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return store.Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return store.Result{}, s.queryError("execute query", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return store.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return store.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return store.Result{}, s.queryError("iterate rows", err)
	}

	return store.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (s *Store) DescribeTable(ctx context.Context, table string) ([]schema.Column, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.dialect.describeTable, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]schema.Column, 0)
	for rows.Next() {
		var (
			name, columnType, nullable string
			key, defaultValue, extra   sql.NullString
		)
		if err := rows.Scan(&name, &columnType, &nullable, &key, &defaultValue, &extra); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		column := schema.Column{
			Name:     name,
			Type:     columnType,
			Nullable: strings.EqualFold(nullable, "YES"),
			Key:      key.String,
			Extra:    extra.String,
		}
		if defaultValue.Valid {
			value := defaultValue.String
			column.Default = &value
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return columns, nil
}

func (s *Store) PrimaryKey(ctx context.Context, table string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var column string
	err := s.db.QueryRowContext(ctx, s.dialect.primaryKey, table).Scan(&column)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("primary key of %q: %w", table, err)
	}
	return column, nil
}

// queryError normalizes a driver error. Unknown column errors are returned
// as is so their message stays the store's own.
func (s *Store) queryError(step string, err error) error {
	normalized := s.dialect.normalizeErr(err)
	var unknown *store.UnknownColumnError
	if errors.As(normalized, &unknown) {
		return normalized
	}
	return fmt.Errorf("%s: %w", step, normalized)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
