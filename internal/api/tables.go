package api

import "net/http"

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "inventory database is not configured", false, nil)
		return
	}
	names, err := deps.Tables.TableNames(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": names})
}
