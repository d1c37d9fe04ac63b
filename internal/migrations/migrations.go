// Package migrations applies the embedded inventory schema and seed data.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var embeddedFS embed.FS

// VersionTable records applied versions. It is excluded from the table
// allow-list.
const VersionTable = "stockpilot_schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type dialect struct {
	dir          string
	placeholders sq.PlaceholderFormat
	versionDDL   string
}

var dialects = map[string]dialect{
	"sqlite": {
		dir:          "sql/sqlite",
		placeholders: sq.Question,
		versionDDL: `
CREATE TABLE IF NOT EXISTS ` + VersionTable + ` (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	},
	"postgres": {
		dir:          "sql/postgres",
		placeholders: sq.Dollar,
		versionDDL: `
CREATE TABLE IF NOT EXISTS ` + VersionTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	},
}

type Runner struct {
	fsys    fs.FS
	dialect dialect
}

// NewRunner returns a runner for the given inventory driver. duckdb shares
// the postgres scripts.
func NewRunner(driver string) (*Runner, error) {
	name := strings.ToLower(strings.TrimSpace(driver))
	if name == "duckdb" {
		name = "postgres"
	}
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	return &Runner{fsys: embeddedFS, dialect: d}, nil
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	migrations, err := loadMigrations(r.fsys, r.dialect.dir)
	if err != nil {
		return 0, err
	}
	if err := r.ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := listAppliedVersions(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}

	appliedSet := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		appliedSet[version] = struct{}{}
	}

	runCount := 0
	for _, item := range migrations {
		if _, ok := appliedSet[item.Version]; ok {
			continue
		}
		if steps > 0 && runCount >= steps {
			break
		}
		mark := sq.Insert(VersionTable).Columns("version").Values(item.Version).PlaceholderFormat(r.dialect.placeholders)
		if err := r.run(ctx, db, item.Version, item.UpSQL, mark); err != nil {
			return runCount, fmt.Errorf("apply migration %d: %w", item.Version, err)
		}
		runCount++
	}
	return runCount, nil
}

func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}

	migrations, err := loadMigrations(r.fsys, r.dialect.dir)
	if err != nil {
		return 0, err
	}
	if err := r.ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := listAppliedVersions(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}

	lookup := make(map[int64]migration, len(migrations))
	for _, item := range migrations {
		lookup[item.Version] = item
	}

	runCount := 0
	for _, version := range applied {
		if runCount >= steps {
			break
		}
		item, ok := lookup[version]
		if !ok {
			return runCount, fmt.Errorf("applied migration %d is missing from source", version)
		}
		unmark := sq.Delete(VersionTable).Where(sq.Eq{"version": item.Version}).PlaceholderFormat(r.dialect.placeholders)
		if err := r.run(ctx, db, item.Version, item.DownSQL, unmark); err != nil {
			return runCount, fmt.Errorf("rollback migration %d: %w", item.Version, err)
		}
		runCount++
	}
	return runCount, nil
}

// Applied returns the applied versions in ascending order.
func (r *Runner) Applied(ctx context.Context, db *sql.DB) ([]int64, error) {
	if err := r.ensureVersionTable(ctx, db); err != nil {
		return nil, err
	}
	return listAppliedVersions(ctx, db, "ASC")
}

func (r *Runner) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, r.dialect.versionDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

// run executes script and the bookkeeping statement in one transaction.
func (r *Runner) run(ctx context.Context, db *sql.DB, version int64, script string, bookkeeping sq.Sqlizer) error {
	statement, args, err := bookkeeping.ToSql()
	if err != nil {
		return fmt.Errorf("build version statement: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
		return fmt.Errorf("record version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func listAppliedVersions(ctx context.Context, db *sql.DB, order string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+VersionTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return versions, nil
}

func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(base)
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}

		script, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := items[version]
		item.Version = version
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	versions := make([]int64, 0, len(items))
	for version := range items {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	migrations := make([]migration, 0, len(versions))
	for _, version := range versions {
		item := items[version]
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", version)
		}
		migrations = append(migrations, item)
	}
	return migrations, nil
}
