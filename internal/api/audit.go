package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/stockpilot/stockpilot/internal/audit"
)

type auditEntryResponse struct {
	ID        int64          `json:"id"`
	User      string         `json:"user"`
	Action    string         `json:"action"`
	SKU       string         `json:"sku,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func handleAudit(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit log is not configured", false, nil)
		return
	}

	filter := audit.Filter{Action: strings.TrimSpace(r.URL.Query().Get("action"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		filter.Limit = limit
	}

	entries, err := deps.Audit.Recent(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to read audit log", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, auditEntryResponse{
			ID:        entry.ID,
			User:      entry.User,
			Action:    entry.Action,
			SKU:       entry.SKU,
			Payload:   entry.Payload,
			CreatedAt: entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}
