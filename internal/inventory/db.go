// Package inventory owns the inventory database: opening it for the
// configured driver, listing its live tables and executing validated reads.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

var ErrUnsupportedDriver = errors.New("inventory: unsupported driver")

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// SQLDriverName maps a configured driver to the database/sql driver that
// registers it.
func SQLDriverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		return "sqlite", nil
	case DriverPostgres:
		return "pgx", nil
	case DriverDuckDB:
		return "duckdb", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	driverName, err := SQLDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" && driverName != "duckdb" {
		return nil, fmt.Errorf("inventory dsn is required")
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open inventory db: %w", err)
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

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping inventory db: %w", err)
	}

	return db, nil
}
