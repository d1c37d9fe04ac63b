package stockpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunTablesCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tables":["inventory","products"]}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"tables",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/tables" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key header = %q", gotAPIKey)
	}
	if !strings.Contains(stdout.String(), `"products"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskPrintsAnswer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/ask" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"answer":"sku     qty\n------  ---\nSKU003  10","export":{"key":"exports/date=2026-10-19/r.parquet","url":"http://minio/r"}}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-export", "ask", "low", "stock"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got["question"] != "low stock" || got["export"] != true {
		t.Fatalf("request body = %v", got)
	}
	want := "sku     qty\n------  ---\nSKU003  10\n\nexport: http://minio/r\n"
	if stdout.String() != want {
		t.Fatalf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestRunAskJSONOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"hello","path":["router","llm"]}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-json", "ask", "hi"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), `"path": [`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunGenerateAndValidateSendBodies(t *testing.T) {
	tests := []struct {
		args []string
		path string
		key  string
		want string
	}{
		{args: []string{"generate", "check", "banana"}, path: "/v1/sql/generate", key: "question", want: "check banana"},
		{args: []string{"validate", "SELECT * FROM products"}, path: "/v1/sql/validate", key: "sql", want: "SELECT * FROM products"},
	}
	for _, tc := range tests {
		var gotPath string
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&got)
			_, _ = w.Write([]byte(`{"sql":"SELECT 1"}`))
		}))

		code := Run(context.Background(), append([]string{"-base-url", srv.URL}, tc.args...), Options{})
		srv.Close()
		if code != 0 {
			t.Fatalf("%v exit code = %d", tc.args, code)
		}
		if gotPath != tc.path || got[tc.key] != tc.want {
			t.Fatalf("%v request = %s %v", tc.args, gotPath, got)
		}
	}
}

func TestRunAuditPassesFilters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "-action", "fallback", "-limit", "5", "audit"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotQuery != "action=fallback&limit=5" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":"SQL_REJECTED"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "validate", "DROP TABLE products"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 422") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunRequiresText(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"ask"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
