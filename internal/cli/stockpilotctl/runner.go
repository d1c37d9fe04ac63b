// Package stockpilotctl is the command-line client for the stockpilot API.
package stockpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
	// answerOnly prints the "answer" field of the response instead of the
	// whole JSON document.
	answerOnly bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("stockpilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "stockpilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 30s)")
	exportRows := fs.Bool("export", false, "ask: also export the result rows to object storage")
	jsonOutput := fs.Bool("json", false, "ask: print the full JSON response instead of the answer text")
	action := fs.String("action", "", "audit: only entries with this action")
	limit := fs.Int("limit", 0, "audit: maximum number of entries")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	text := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))

	var c call
	switch command {
	case "health":
		c = call{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		c = call{method: http.MethodGet, path: "/v1/ready"}
	case "tables":
		c = call{method: http.MethodGet, path: "/v1/tables"}
	case "audit":
		query := url.Values{}
		if *action != "" {
			query.Set("action", *action)
		}
		if *limit > 0 {
			query.Set("limit", strconv.Itoa(*limit))
		}
		c = call{method: http.MethodGet, path: "/v1/audit"}
		if encoded := query.Encode(); encoded != "" {
			c.path += "?" + encoded
		}
	case "ask", "generate", "validate":
		if text == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires text\n\n", command)
			writeUsage(stderr)
			return 2
		}
		switch command {
		case "ask":
			c = call{method: http.MethodPost, path: "/v1/ask", body: map[string]any{"question": text, "export": *exportRows}, answerOnly: !*jsonOutput}
		case "generate":
			c = call{method: http.MethodPost, path: "/v1/sql/generate", body: map[string]any{"question": text}}
		default:
			c = call{method: http.MethodPost, path: "/v1/sql/validate", body: map[string]any{"sql": text}}
		}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	code, responseBody, err := doRequest(ctx, client, c.method, endpoint, *apiKey, c.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if c.answerOnly {
		if answer, ok := answerText(responseBody); ok {
			_, _ = fmt.Fprintln(stdout, answer)
			return 0
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

func answerText(raw []byte) (string, bool) {
	var response struct {
		Answer string `json:"answer"`
		Export *struct {
			Key string `json:"key"`
			URL string `json:"url"`
		} `json:"export"`
		ExportError string `json:"export_error"`
	}
	if err := json.Unmarshal(raw, &response); err != nil || response.Answer == "" {
		return "", false
	}
	text := response.Answer
	switch {
	case response.Export != nil && response.Export.URL != "":
		text += "\n\nexport: " + response.Export.URL
	case response.Export != nil:
		text += "\n\nexport: " + response.Export.Key
	case response.ExportError != "":
		text += "\n\nexport failed: " + response.ExportError
	}
	return text, true
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: stockpilotctl [flags] <command> [text]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready               GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  tables              GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  audit               GET /v1/audit (-action, -limit)")
	_, _ = fmt.Fprintln(w, "  ask <question>      POST /v1/ask (-export, -json)")
	_, _ = fmt.Fprintln(w, "  generate <question> POST /v1/sql/generate")
	_, _ = fmt.Fprintln(w, "  validate <sql>      POST /v1/sql/validate")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
