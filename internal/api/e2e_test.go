package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stockpilot/stockpilot/internal/assistant"
	"github.com/stockpilot/stockpilot/internal/audit"
	"github.com/stockpilot/stockpilot/internal/inventory"
	"github.com/stockpilot/stockpilot/internal/migrations"
	"github.com/stockpilot/stockpilot/internal/nl2sql"
	"github.com/stockpilot/stockpilot/internal/query"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
)

func TestSeededInventoryEndToEnd(t *testing.T) {
	db, store := openSeededInventory(t)
	generator := sqlgen.NewGenerator(store, nil, nl2sql.DefaultPrompts(), "")
	writer := audit.NewWriter(db, inventory.DriverSQLite, "assistant")
	helper, err := assistant.New(assistant.Dependencies{
		Generator: generator,
		Engine:    store,
		Audit:     writer,
		RowLimit:  50,
	})
	if err != nil {
		t.Fatalf("assistant.New() error = %v", err)
	}

	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: CheckDatabase(store),
		Assistant: helper,
		Generator: generator,
		Validator: generator.Validator,
		Tables:    store,
		Audit:     writer,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"low stock"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	answer, _ := body["answer"].(string)
	if !strings.Contains(answer, "SKU003") || strings.Contains(answer, "SKU001") {
		t.Fatalf("answer = %q", answer)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"what's the weather today"}`)))
	if got := decodeBody(t, rr)["answer"]; got != assistant.FallbackMessage {
		t.Fatalf("fallback answer = %v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/validate", strings.NewReader(`{"sql":"SELECT * FROM stockpilot_schema_migrations"}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("validate status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/audit", nil))
	entries, _ := decodeBody(t, rr)["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	newest, _ := entries[0].(map[string]any)
	if newest["action"] != audit.ActionFallback || newest["user"] != "assistant" {
		t.Fatalf("newest entry = %v", newest)
	}
}

func TestModelStatementWithTrailingDeleteNeverRuns(t *testing.T) {
	db, store := openSeededInventory(t)
	model := scriptedCompleter{reply: "SELECT 1; DELETE FROM inventory"}
	generator := sqlgen.NewGenerator(store, model, nl2sql.DefaultPrompts(), "m")
	helper, err := assistant.New(assistant.Dependencies{
		Generator: generator,
		Engine:    store,
		RowLimit:  0,
	})
	if err != nil {
		t.Fatalf("assistant.New() error = %v", err)
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Assistant: helper, Generator: generator})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"list supplier ratings"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["answer"] != assistant.FallbackMessage {
		t.Fatalf("answer = %v", body["answer"])
	}
	if _, ok := body["rows"]; ok {
		t.Fatalf("rows returned for refused statement: %v", body)
	}
	if sqlError, _ := body["sql_error"].(string); !strings.Contains(sqlError, query.ErrMultipleStatements.Error()) {
		t.Fatalf("sql_error = %v", body["sql_error"])
	}

	var count int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM inventory").Scan(&count); err != nil {
		t.Fatalf("count inventory: %v", err)
	}
	if count != 3 {
		t.Fatalf("inventory rows = %d, want 3", count)
	}
}

func openSeededInventory(t *testing.T) (*sql.DB, *inventory.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := inventory.Open(ctx, inventory.DBConfig{
		Driver:       inventory.DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	runner, err := migrations.NewRunner(inventory.DriverSQLite)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if _, err := runner.Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	return db, inventory.NewStore(db, inventory.DriverSQLite)
}

type scriptedCompleter struct {
	reply string
}

func (c scriptedCompleter) Complete(context.Context, nl2sql.CompletionRequest) (string, error) {
	return c.reply, nil
}
