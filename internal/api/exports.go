package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// handleDownloadExport streams an exported parquet file. Only keys in the
// export layout are served so the route cannot read other objects.
func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export storage is not configured", false, nil)
		return
	}
	key := "exports/" + r.PathValue("key")
	if !storage.IsExportPath(key) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_KEY", "not an export key", false, map[string]any{"key": key})
		return
	}

	info, err := deps.Exports.Stat(r.Context(), key)
	if err != nil {
		writeStorageError(w, r, key, err)
		return
	}
	body, err := deps.Exports.Get(r.Context(), key)
	if err != nil {
		writeStorageError(w, r, key, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", parquetContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "export download interrupted",
			slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

func writeStorageError(w http.ResponseWriter, r *http.Request, key string, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, map[string]any{"key": key})
		return
	}
	writeError(r.Context(), w, http.StatusBadGateway, "STORAGE_ERROR", "failed to read export", true, map[string]any{"details": err.Error()})
}
