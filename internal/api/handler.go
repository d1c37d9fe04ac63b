// Package api exposes the assistant and its SQL tooling over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockpilot/stockpilot/internal/assistant"
	"github.com/stockpilot/stockpilot/internal/audit"
	"github.com/stockpilot/stockpilot/internal/auth"
	"github.com/stockpilot/stockpilot/internal/config"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
	"github.com/stockpilot/stockpilot/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Ask(ctx context.Context, req assistant.Request) (assistant.State, error)
}

type SQLGenerator interface {
	Generate(ctx context.Context, question string) (sqlgen.Result, error)
}

type SQLValidator interface {
	Validate(ctx context.Context, sqlText string) (sqlgen.ValidatedSQL, error)
}

type AuditReader interface {
	Recent(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Asker
	Generator         SQLGenerator
	Validator         SQLValidator
	Tables            sqlgen.TableNameProvider
	Audit             AuditReader
	Exports           storage.ObjectStore
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	reader := auth.RequireRole(auth.RoleReader)
	auditor := auth.RequireRole(auth.RoleAuditor)
	protected := map[string]http.Handler{
		"POST /v1/ask":             reader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handleAsk(deps, w, r) })),
		"POST /v1/sql/generate":    reader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handleGenerateSQL(deps, w, r) })),
		"POST /v1/sql/validate":    reader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handleValidateSQL(deps, w, r) })),
		"GET /v1/tables":           reader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handleListTables(deps, w, r) })),
		"GET /v1/audit":            auditor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handleAudit(deps, w, r) })),
		"GET /v1/exports/{key...}": reader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handleDownloadExport(deps, w, r) })),
	}

	for pattern, handler := range protected {
		if cfg.Auth.Required {
			if deps.AuthMiddleware == nil {
				if deps.Logger != nil {
					deps.Logger.Error("auth required but auth middleware missing")
				}
				handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			} else {
				handler = deps.AuthMiddleware(handler)
			}
		}
		mux.Handle(pattern, handler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckDatabase pings the inventory database through its table listing.
func CheckDatabase(tables sqlgen.TableNameProvider) ReadinessCheck {
	return func(ctx context.Context) error {
		if tables == nil {
			return errors.New("inventory database is not configured")
		}
		names, err := tables.TableNames(ctx)
		if err != nil {
			return fmt.Errorf("inventory database: %w", err)
		}
		if len(names) == 0 {
			return errors.New("inventory database has no tables")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Export.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
