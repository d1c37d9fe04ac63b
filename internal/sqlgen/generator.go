package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stockpilot/stockpilot/internal/nl2sql"
	"github.com/stockpilot/stockpilot/internal/observability"
)

// NoSQLSentinel is the in-band marker a model returns when a request cannot
// be answered with SQL.
const NoSQLSentinel = "--NO_SQL--"

type Source string

const (
	SourceRule  Source = "rule"
	SourceModel Source = "model"
)

type Result struct {
	SQL    ValidatedSQL
	Source Source
	// Rule names the matching rule when Source is SourceRule.
	Rule string
}

// Generator is the hybrid entry point: rules first, then a single model
// call. Every candidate goes through Validator before it is returned.
type Generator struct {
	Tables    TableNameProvider
	Validator *Validator
	Model     nl2sql.Completer
	Prompts   nl2sql.Prompts
	ModelName string
	MaxTokens int
	Logger    *slog.Logger
}

func NewGenerator(tables TableNameProvider, model nl2sql.Completer, prompts nl2sql.Prompts, modelName string) *Generator {
	return &Generator{
		Tables:    tables,
		Validator: NewValidator(tables),
		Model:     model,
		Prompts:   prompts,
		ModelName: modelName,
	}
}

func (g *Generator) Generate(ctx context.Context, question string) (Result, error) {
	logger := g.logger()
	traceID := observability.TraceIDFromContext(ctx)

	if candidate, rule, ok := MatchRule(question); ok {
		validated, err := g.validate(ctx, candidate)
		if err != nil {
			logger.WarnContext(ctx, "rule sql rejected", slog.String("trace_id", traceID), slog.String("rule", rule), slog.Any("error", err))
			return Result{}, err
		}
		observability.ObserveSQLGenerated(string(SourceRule))
		logger.DebugContext(ctx, "rule sql generated", slog.String("trace_id", traceID), slog.String("rule", rule))
		return Result{SQL: validated, Source: SourceRule, Rule: rule}, nil
	}

	candidate, err := g.complete(ctx, question)
	if err != nil {
		logger.WarnContext(ctx, "model sql generation failed", slog.String("trace_id", traceID), slog.Any("error", err))
		return Result{}, err
	}
	if strings.HasPrefix(candidate, NoSQLSentinel) {
		logger.InfoContext(ctx, "model declined sql", slog.String("trace_id", traceID))
		return Result{}, &GenerationError{Reason: unanswerableReason}
	}
	validated, err := g.validate(ctx, candidate)
	if err != nil {
		logger.WarnContext(ctx, "model sql rejected", slog.String("trace_id", traceID), slog.Any("error", err))
		return Result{}, &GenerationError{Reason: "Generated SQL failed validation", Err: err}
	}
	observability.ObserveSQLGenerated(string(SourceModel))
	logger.DebugContext(ctx, "model sql generated", slog.String("trace_id", traceID))
	return Result{SQL: validated, Source: SourceModel}, nil
}

// complete performs the one model call of an escalated question and returns
// the trimmed reply.
func (g *Generator) complete(ctx context.Context, question string) (string, error) {
	if g.Model == nil {
		return "", &GenerationError{Reason: "No model configured for questions outside the rule set"}
	}
	if g.Tables == nil {
		return "", fmt.Errorf("table name provider is required")
	}
	tables, err := g.Tables.TableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("load table names: %w", err)
	}

	start := time.Now()
	reply, err := g.Model.Complete(ctx, nl2sql.CompletionRequest{
		System:    g.Prompts.SQLSystemFor(tables),
		User:      fmt.Sprintf("User request: %s\nReturn only SQL or %s.", question, NoSQLSentinel),
		Model:     g.ModelName,
		MaxTokens: g.MaxTokens,
	})
	if err != nil {
		observability.ObserveModelCall("error", time.Since(start))
		return "", &GenerationError{Reason: "Model request failed", Err: err}
	}
	reply = strings.TrimSpace(reply)
	outcome := "ok"
	if strings.HasPrefix(reply, NoSQLSentinel) {
		outcome = "declined"
	}
	observability.ObserveModelCall(outcome, time.Since(start))
	return reply, nil
}

func (g *Generator) validate(ctx context.Context, candidate string) (ValidatedSQL, error) {
	validator := g.Validator
	if validator == nil {
		validator = NewValidator(g.Tables)
	}
	validated, err := validator.Validate(ctx, candidate)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			observability.ObserveSQLRejected(string(validationErr.Reason))
		}
		return "", err
	}
	return validated, nil
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger == nil {
		return observability.DiscardLogger()
	}
	return g.Logger
}
