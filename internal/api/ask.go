package api

import (
	"net/http"
	"strings"

	"github.com/stockpilot/stockpilot/internal/assistant"
	"github.com/stockpilot/stockpilot/internal/export"
)

type askRequest struct {
	Question string `json:"question"`
	Export   bool   `json:"export"`
}

type askResponse struct {
	RequestID   string         `json:"request_id"`
	Intent      string         `json:"intent"`
	Answer      string         `json:"answer"`
	SQL         string         `json:"sql,omitempty"`
	SQLSource   string         `json:"sql_source,omitempty"`
	SQLRule     string         `json:"sql_rule,omitempty"`
	SQLError    string         `json:"sql_error,omitempty"`
	Columns     []string       `json:"columns,omitempty"`
	Rows        [][]any        `json:"rows,omitempty"`
	Export      *export.Export `json:"export,omitempty"`
	ExportError string         `json:"export_error,omitempty"`
	Path        []string       `json:"path"`
	Stats       map[string]any `json:"stats,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	state, err := deps.Assistant.Ask(r.Context(), assistant.Request{Question: req.Question, Export: req.Export})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "ASSISTANT_FAILED", "assistant failed", true, map[string]any{"details": err.Error()})
		return
	}

	response := askResponse{
		RequestID:   state.RequestID,
		Intent:      string(state.Intent),
		Answer:      state.Output,
		SQL:         state.SQL.String(),
		SQLSource:   string(state.SQLSource),
		SQLRule:     state.SQLRule,
		SQLError:    state.SQLError,
		Export:      state.Export,
		ExportError: state.ExportError,
		Path:        state.Path,
	}
	if state.SQL != "" && state.SQLError == "" {
		response.Columns = state.Rows.Columns
		response.Rows = state.Rows.Rows
		response.Stats = map[string]any{
			"duration_ms": state.Rows.Duration.Milliseconds(),
			"row_count":   len(state.Rows.Rows),
			"truncated":   state.Rows.Truncated,
		}
	}
	writeJSON(w, http.StatusOK, response)
}
