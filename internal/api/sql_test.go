package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stockpilot/stockpilot/internal/nl2sql"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
)

func TestGenerateSQLReturnsRuleResult(t *testing.T) {
	gen := &fakeGenerator{result: sqlgen.Result{
		SQL:    "SELECT sku, name FROM products;",
		Source: sqlgen.SourceRule,
		Rule:   "list_products",
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Generator: gen})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/generate", strings.NewReader(`{"question":"list products"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["sql"] != "SELECT sku, name FROM products;" || body["source"] != "rule" || body["rule"] != "list_products" {
		t.Fatalf("body = %v", body)
	}
}

func TestGenerateSQLErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "rule validation",
			err:    &sqlgen.ValidationError{Reason: sqlgen.ReasonUnauthorizedTables, Tables: []string{"payroll"}},
			status: http.StatusUnprocessableEntity,
			code:   "SQL_REJECTED",
		},
		{
			name:   "model validation",
			err:    &sqlgen.GenerationError{Reason: "Generated SQL failed validation", Err: &sqlgen.ValidationError{Reason: sqlgen.ReasonNotSelect}},
			status: http.StatusUnprocessableEntity,
			code:   "SQL_REJECTED",
		},
		{
			name:   "model transport",
			err:    &sqlgen.GenerationError{Reason: "Model request failed", Err: errors.New("status=503")},
			status: http.StatusBadGateway,
			code:   "GENERATION_FAILED",
		},
		{
			name:   "table lookup",
			err:    errors.New("load table names: database is locked"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(loadConfig(t, nil), Dependencies{Generator: &fakeGenerator{err: tc.err}})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/generate", strings.NewReader(`{"question":"anything"}`)))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if got := decodeBody(t, rr)["error_code"]; got != tc.code {
				t.Fatalf("error_code = %v, want %s", got, tc.code)
			}
		})
	}
}

func TestGenerateSQLUnansweredByModel(t *testing.T) {
	gen := sqlgen.NewGenerator(staticTables{"products"}, declineCompleter{}, nl2sql.DefaultPrompts(), "m")
	h := NewHandler(loadConfig(t, nil), Dependencies{Generator: gen})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/generate", strings.NewReader(`{"question":"what's the weather today"}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "QUERY_UNANSWERABLE" || body["message"] != "Query cannot be answered by SQL" {
		t.Fatalf("body = %v", body)
	}
}

func TestGenerateSQLRejectsBadBody(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Generator: &fakeGenerator{}})
	for _, body := range []string{`{`, `{"question":"  "}`, `{"question":"x","extra":1}`} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/generate", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, rr.Code)
		}
	}
}

func TestValidateSQL(t *testing.T) {
	validator := sqlgen.NewValidator(staticTables{"inventory", "products"})
	h := NewHandler(loadConfig(t, nil), Dependencies{Validator: validator})

	tests := []struct {
		sql    string
		status int
		reason string
	}{
		{sql: "SELECT * FROM products p JOIN inventory i ON p.sku = i.sku", status: http.StatusOK},
		{sql: "SELECT 1; SELECT 2;", status: http.StatusUnprocessableEntity, reason: "multiple_statements"},
		{sql: "DELETE FROM products", status: http.StatusUnprocessableEntity, reason: "not_select"},
		{sql: "SELECT * FROM payroll", status: http.StatusUnprocessableEntity, reason: "unauthorized_tables"},
	}
	for _, tc := range tests {
		payload := `{"sql":` + quoteJSON(tc.sql) + `}`
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/validate", strings.NewReader(payload)))
		if rr.Code != tc.status {
			t.Fatalf("%q status = %d, want %d", tc.sql, rr.Code, tc.status)
		}
		body := decodeBody(t, rr)
		if tc.reason == "" {
			if body["valid"] != true {
				t.Fatalf("%q body = %v", tc.sql, body)
			}
			continue
		}
		extra, _ := body["context"].(map[string]any)
		if extra["reason"] != tc.reason {
			t.Fatalf("%q context = %v, want reason %s", tc.sql, extra, tc.reason)
		}
	}
}

func TestValidateSQLReportsUnauthorizedTables(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Validator: sqlgen.NewValidator(staticTables{"products"})})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sql/validate",
		strings.NewReader(`{"sql":"SELECT * FROM salaries s JOIN payroll p ON s.id = p.id"}`)))
	body := decodeBody(t, rr)
	if body["message"] != "Unauthorized tables: payroll, salaries" {
		t.Fatalf("message = %v", body["message"])
	}
}

func quoteJSON(value string) string {
	raw, _ := json.Marshal(value)
	return string(raw)
}

type declineCompleter struct{}

func (declineCompleter) Complete(context.Context, nl2sql.CompletionRequest) (string, error) {
	return "--NO_SQL--", nil
}
