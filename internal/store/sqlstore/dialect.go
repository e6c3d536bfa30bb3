package sqlstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlscribe/sqlscribe/internal/store"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// mysqlErrBadField is ER_BAD_FIELD_ERROR.
const mysqlErrBadField = 1054

// pgUndefinedColumn is SQLSTATE undefined_column.
const pgUndefinedColumn = "42703"

type dialect struct {
	name          string
	displayName   string
	sqlDriver     string
	listTables    string
	describeTable string
	primaryKey    string
	normalizeErr  func(error) error
	prepareDSN    func(dsn string) (string, string, error)
}

func lookupDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMySQL:
		return mysqlDialect, nil
	case DriverPostgres, "pgx":
		return postgresDialect, nil
	case DriverDuckDB:
		return duckdbDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

var mysqlDialect = dialect{
	name:        DriverMySQL,
	displayName: "MySQL",
	sqlDriver:   "mysql",
	listTables: `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
	describeTable: `
SELECT column_name, column_type, is_nullable, column_key, column_default, extra
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`,
	primaryKey: `
SELECT column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = 'PRIMARY'
ORDER BY ordinal_position
LIMIT 1`,
	normalizeErr: normalizeMySQLError,
	prepareDSN:   prepareMySQLDSN,
}

var postgresDialect = dialect{
	name:        DriverPostgres,
	displayName: "PostgreSQL",
	sqlDriver:   "pgx",
	listTables: `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
	describeTable: `
SELECT column_name, data_type, is_nullable, '' AS column_key, column_default, '' AS extra
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`,
	primaryKey: `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
 AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = current_schema() AND tc.table_name = $1
ORDER BY kcu.ordinal_position
LIMIT 1`,
	normalizeErr: normalizePostgresError,
	prepareDSN:   preparePostgresDSN,
}

var duckdbDialect = dialect{
	name:        DriverDuckDB,
	displayName: "DuckDB",
	sqlDriver:   "duckdb",
	listTables: `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
	describeTable: `
SELECT column_name, data_type, is_nullable, '' AS column_key, column_default, '' AS extra
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ?
ORDER BY ordinal_position`,
	primaryKey: `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = current_schema() AND tc.table_name = ?
ORDER BY kcu.ordinal_position
LIMIT 1`,
	normalizeErr: normalizeDuckDBError,
	prepareDSN:   prepareDuckDBDSN,
}

var mysqlUnknownColumnPattern = regexp.MustCompile(`Unknown column '([^']+)' in '([^']+)'`)

func normalizeMySQLError(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlErrBadField {
		return err
	}
	match := mysqlUnknownColumnPattern.FindStringSubmatch(mysqlErr.Message)
	if match == nil {
		return err
	}
	return &store.UnknownColumnError{Identifier: match[1], Clause: match[2], Err: err}
}

var pgUndefinedColumnPattern = regexp.MustCompile(`column ((?:"[^"]+"|\w+)(?:\.(?:"[^"]+"|\w+))?) does not exist`)

func normalizePostgresError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUndefinedColumn {
		return err
	}
	match := pgUndefinedColumnPattern.FindStringSubmatch(pgErr.Message)
	if match == nil {
		return err
	}
	return &store.UnknownColumnError{Identifier: strings.ReplaceAll(match[1], `"`, ""), Err: err}
}

var (
	duckdbQualifiedColumnPattern   = regexp.MustCompile(`"([^"]+)" does not have a column named "([^"]+)"`)
	duckdbUnqualifiedColumnPattern = regexp.MustCompile(`Referenced column "([^"]+)" not found`)
)

func normalizeDuckDBError(err error) error {
	message := err.Error()
	if match := duckdbQualifiedColumnPattern.FindStringSubmatch(message); match != nil {
		return &store.UnknownColumnError{Identifier: match[1] + "." + match[2], Err: err}
	}
	if match := duckdbUnqualifiedColumnPattern.FindStringSubmatch(message); match != nil {
		return &store.UnknownColumnError{Identifier: match[1], Err: err}
	}
	return err
}

// prepareMySQLDSN forces parseTime so DATETIME columns scan into time.Time.
func prepareMySQLDSN(dsn string) (string, string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), cfg.DBName, nil
}

func preparePostgresDSN(dsn string) (string, string, error) {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return "", "", fmt.Errorf("parse postgres dsn: %w", err)
	}
	return dsn, cfg.Database, nil
}

func prepareDuckDBDSN(dsn string) (string, string, error) {
	path := strings.TrimSpace(dsn)
	if path == "" || path == ":memory:" {
		return "", "memory", nil
	}
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return dsn, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), nil
}
