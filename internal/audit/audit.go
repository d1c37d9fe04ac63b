// Package audit records assistant activity in the inventory audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const table = "audit_log"

const (
	ActionSQLGenerated = "sql_generated"
	ActionSQLRejected  = "sql_rejected"
	ActionConversation = "conversation"
	ActionFallback     = "fallback"
)

var columns = []string{"id", `"user"`, "action", "sku", "payload", "created_at"}

type Entry struct {
	ID        int64
	User      string
	Action    string
	SKU       string
	Payload   map[string]any
	CreatedAt string
}

// Recorder is what the assistant depends on.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Writer struct {
	db          *sql.DB
	builder     sq.StatementBuilderType
	defaultUser string
}

// NewWriter returns a writer whose placeholders match driver: "?" for
// sqlite, "$n" for postgres and duckdb.
func NewWriter(db *sql.DB, driver, defaultUser string) *Writer {
	var format sq.PlaceholderFormat = sq.Dollar
	if strings.EqualFold(strings.TrimSpace(driver), "sqlite") {
		format = sq.Question
	}
	return &Writer{
		db:          db,
		builder:     sq.StatementBuilder.PlaceholderFormat(format),
		defaultUser: defaultUser,
	}
}

func (w *Writer) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("audit action is required")
	}
	user := entry.User
	if user == "" {
		user = w.defaultUser
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	statement, args, err := w.builder.
		Insert(table).
		Columns(`"user"`, "action", "sku", "payload").
		Values(user, entry.Action, nullable(entry.SKU), string(payload)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := w.db.ExecContext(ctx, statement, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

type Filter struct {
	Action string
	Limit  int
}

// Recent returns the newest entries first.
func (w *Writer) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	qb := w.builder.Select(columns...).From(table).OrderBy("id DESC")
	if filter.Action != "" {
		qb = qb.Where(sq.Eq{"action": filter.Action})
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	qb = qb.Limit(uint64(limit))

	statement, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}
	rows, err := w.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry                        Entry
			user, action, sku, createdAt sql.NullString
			payload                      sql.NullString
		)
		if err := rows.Scan(&entry.ID, &user, &action, &sku, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.User = user.String
		entry.Action = action.String
		entry.SKU = sku.String
		entry.CreatedAt = createdAt.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload %d: %w", entry.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
