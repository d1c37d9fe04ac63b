package inventory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/stockpilot/stockpilot/internal/migrations"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/query"
)

const (
	sqliteTablesQuery   = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	postgresTablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`
	duckdbTablesQuery   = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' AND table_type = 'BASE TABLE' ORDER BY table_name`
)

// Store is both the table-name provider and the query execution sink.
type Store struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
}

type StoreOption func(*Store)

// WithQueryTimeout bounds every Execute call.
func WithQueryTimeout(timeout time.Duration) StoreOption {
	return func(s *Store) {
		s.queryTimeout = timeout
	}
}

func NewStore(db *sql.DB, driver string, opts ...StoreOption) *Store {
	store := &Store{db: db, driver: strings.ToLower(strings.TrimSpace(driver))}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping inventory db: %w", err)
	}
	return nil
}

// TableNames lists the tables that currently exist. It reads the catalog
// on every call.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	var statement string
	switch s.driver {
	case DriverSQLite:
		statement = sqliteTablesQuery
	case DriverPostgres:
		statement = postgresTablesQuery
	case DriverDuckDB:
		statement = duckdbTablesQuery
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, s.driver)
	}

	rows, err := s.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if name == migrations.VersionTable {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

type queryer interface {
	QueryContext(ctx context.Context, sqlText string, args ...any) (*sql.Rows, error)
}

// Execute runs a statement that already passed validation. Only the first
// statement is accepted, it runs in a read-only session where the driver
// supports one, and scanning stops after RowLimit rows.
func (s *Store) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText, err := query.SingleStatement(request.SQL)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	start := time.Now()
	var result query.Result
	err = s.readOnly(ctx, func(q queryer) error {
		var scanErr error
		result, scanErr = scanRows(ctx, q, sqlText, request.RowLimit)
		return scanErr
	})
	if err != nil {
		return query.Result{}, err
	}
	result.Duration = time.Since(start)
	observability.ObserveQueryRows(len(result.Rows))
	return result, nil
}

// readOnly runs fn on a session that refuses writes: PRAGMA query_only on a
// dedicated sqlite connection, a read-only transaction on postgres. DuckDB
// relies on the single-statement check.
func (s *Store) readOnly(ctx context.Context, fn func(queryer) error) error {
	switch s.driver {
	case DriverSQLite:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("acquire connection: %w", err)
		}
		defer func() { _ = conn.Close() }()
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return fmt.Errorf("enable query_only: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF"); err != nil {
				// Drop the connection rather than return a read-only one to the pool.
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
		}()
		return fn(conn)
	case DriverPostgres:
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		return fn(tx)
	default:
		return fn(s.db)
	}
}

func scanRows(ctx context.Context, q queryer, sqlText string, limit int) (query.Result, error) {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
