package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stockpilot/stockpilot/internal/assistant"
	"github.com/stockpilot/stockpilot/internal/audit"
	"github.com/stockpilot/stockpilot/internal/auth"
	"github.com/stockpilot/stockpilot/internal/config"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["service"] != "stockpilot-api" {
		t.Fatalf("service = %v", body["service"])
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"STOCKPILOT_AUTH_REQUIRED":    "true",
		"STOCKPILOT_AUTH_STATIC_KEYS": "k1:alice:reader,k2:bob:auditor",
	})
	validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Tables:         staticTables{"inventory", "products"},
		Audit:          &fakeAuditReader{},
	})

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{name: "no key", path: "/v1/tables", want: http.StatusUnauthorized},
		{name: "reader", path: "/v1/tables", key: "k1", want: http.StatusOK},
		{name: "auditor lacks reader", path: "/v1/tables", key: "k2", want: http.StatusForbidden},
		{name: "reader lacks auditor", path: "/v1/audit", key: "k1", want: http.StatusForbidden},
		{name: "auditor", path: "/v1/audit", key: "k2", want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d, body = %s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"STOCKPILOT_AUTH_REQUIRED":    "true",
		"STOCKPILOT_AUTH_STATIC_KEYS": "k1:alice:reader",
	})
	h := NewHandler(cfg, Dependencies{Tables: staticTables{"products"}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestListTables(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Tables: staticTables{"inventory", "products"}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	tables, _ := decodeBody(t, rr)["tables"].([]any)
	if len(tables) != 2 || tables[0] != "inventory" {
		t.Fatalf("tables = %v", tables)
	}
}

func TestRoutesReturn501WhenNotConfigured(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	tests := []struct {
		method string
		path   string
		body   string
		code   string
	}{
		{method: http.MethodPost, path: "/v1/ask", body: `{"question":"list products"}`, code: "ASSISTANT_NOT_CONFIGURED"},
		{method: http.MethodPost, path: "/v1/sql/generate", body: `{"question":"list products"}`, code: "GENERATOR_NOT_CONFIGURED"},
		{method: http.MethodPost, path: "/v1/sql/validate", body: `{"sql":"SELECT 1"}`, code: "VALIDATOR_NOT_CONFIGURED"},
		{method: http.MethodGet, path: "/v1/tables", code: "TABLES_NOT_CONFIGURED"},
		{method: http.MethodGet, path: "/v1/audit", code: "AUDIT_NOT_CONFIGURED"},
		{method: http.MethodGet, path: "/v1/exports/date=2026-10-19/r.parquet", code: "EXPORT_NOT_CONFIGURED"},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s %s status = %d", tc.method, tc.path, rr.Code)
		}
		if got := decodeBody(t, rr)["error_code"]; got != tc.code {
			t.Fatalf("%s %s error_code = %v", tc.method, tc.path, got)
		}
	}
}

func TestCheckDatabase(t *testing.T) {
	if err := CheckDatabase(staticTables{"products"})(context.Background()); err != nil {
		t.Fatalf("CheckDatabase() error = %v", err)
	}
	if err := CheckDatabase(staticTables{})(context.Background()); err == nil {
		t.Fatal("expected error for empty database")
	}
	if err := CheckDatabase(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckObjectStoreConfigSkipsWhenExportDisabled(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"STOCKPILOT_OBJECTSTORE_BUCKET": ""})
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckObjectStoreConfig() error = %v", err)
	}
	cfg.Export.Enabled = true
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

type staticTables []string

func (s staticTables) TableNames(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

type fakeAsker struct {
	state assistant.State
	err   error
	last  assistant.Request
}

func (f *fakeAsker) Ask(_ context.Context, req assistant.Request) (assistant.State, error) {
	f.last = req
	return f.state, f.err
}

type fakeGenerator struct {
	result sqlgen.Result
	err    error
}

func (f *fakeGenerator) Generate(context.Context, string) (sqlgen.Result, error) {
	return f.result, f.err
}

type fakeAuditReader struct {
	entries []audit.Entry
	err     error
	last    audit.Filter
}

func (f *fakeAuditReader) Recent(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	f.last = filter
	return f.entries, f.err
}

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	cfg, err := config.Load("stockpilot-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body = %s", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
