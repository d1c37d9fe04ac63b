package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/stockpilot/stockpilot/internal/sqlgen"
)

type generateRequest struct {
	Question string `json:"question"`
}

type validateRequest struct {
	SQL string `json:"sql"`
}

func handleGenerateSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Generator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "GENERATOR_NOT_CONFIGURED", "sql generation is not configured", false, nil)
		return
	}

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid generate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Generator.Generate(r.Context(), req.Question)
	if err != nil {
		writeGenerationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":    result.SQL.String(),
		"source": string(result.Source),
		"rule":   result.Rule,
		"tables": sqlgen.ReferencedTables(result.SQL.String()),
	})
}

func handleValidateSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Validator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VALIDATOR_NOT_CONFIGURED", "sql validation is not configured", false, nil)
		return
	}

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	validated, err := deps.Validator.Validate(r.Context(), req.SQL)
	if err != nil {
		writeGenerationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"sql":    validated.String(),
		"tables": sqlgen.ReferencedTables(validated.String()),
	})
}

// writeGenerationError maps generator and validator failures to the error
// envelope. Unanswerable questions are checked before validation failures
// since both are 422.
func writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *sqlgen.ValidationError
	switch {
	case errors.Is(err, sqlgen.ErrUnanswerable):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUERY_UNANSWERABLE", err.Error(), false, nil)
	case errors.As(err, &validationErr):
		extra := map[string]any{"reason": string(validationErr.Reason)}
		if len(validationErr.Tables) > 0 {
			extra["tables"] = validationErr.Tables
		}
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "SQL_REJECTED", err.Error(), false, extra)
	case errors.Is(err, sqlgen.ErrGeneration):
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "sql generation failed", true, map[string]any{"details": err.Error()})
	}
}
