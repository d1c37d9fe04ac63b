// Package assistant sequences one question through routing, SQL generation,
// execution and formatting, falling back to conversation or an apology.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/stockpilot/stockpilot/internal/audit"
	"github.com/stockpilot/stockpilot/internal/auth"
	"github.com/stockpilot/stockpilot/internal/export"
	"github.com/stockpilot/stockpilot/internal/format"
	"github.com/stockpilot/stockpilot/internal/nl2sql"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/query"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
)

// FallbackMessage is returned when nothing else can answer.
const FallbackMessage = "Sorry, I couldn't understand or perform that operation."

const (
	nodeRouter   = "router"
	nodeSQLGen   = "sql_gen"
	nodeDBExec   = "db_exec"
	nodeFormat   = "format"
	nodeLLM      = "llm"
	nodeFallback = "fallback"
	nodeEnd      = ""
)

type SQLGenerator interface {
	Generate(ctx context.Context, question string) (sqlgen.Result, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (export.Export, error)
}

type Dependencies struct {
	Generator SQLGenerator
	Engine    query.Engine
	// Model answers conversational questions. Nil sends them to the fallback.
	Model             nl2sql.Completer
	Prompts           nl2sql.Prompts
	ConversationModel string
	Audit             audit.Recorder
	Exporter          Exporter
	RowLimit          int
	Logger            *slog.Logger
	NewID             func() string
}

type Assistant struct {
	deps  Dependencies
	nodes map[string]func(context.Context, State) (State, string)
}

func New(deps Dependencies) (*Assistant, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("sql generator is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.DiscardLogger()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	a := &Assistant{deps: deps}
	a.nodes = map[string]func(context.Context, State) (State, string){
		nodeRouter:   a.router,
		nodeSQLGen:   a.sqlGen,
		nodeDBExec:   a.dbExec,
		nodeFormat:   a.format,
		nodeLLM:      a.llm,
		nodeFallback: a.fallback,
	}
	return a, nil
}

type Request struct {
	Question string
	Export   bool
}

// Ask runs the graph to completion. Generation, execution and model
// failures are folded into the returned state, never returned as errors.
func (a *Assistant) Ask(ctx context.Context, req Request) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	state := State{RequestID: a.deps.NewID(), Input: req.Question, WantExport: req.Export}

	next := nodeRouter
	for next != nodeEnd {
		run, ok := a.nodes[next]
		if !ok {
			return state, fmt.Errorf("unknown graph node %q", next)
		}
		state = state.visit(next)
		state, next = run(ctx, state)
	}

	a.record(ctx, state)
	return state, nil
}

func (a *Assistant) router(ctx context.Context, state State) (State, string) {
	intent, target := Route(state.Input)
	observability.ObserveRoute(routeLabel(target))
	a.deps.Logger.InfoContext(ctx, "question routed",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("request_id", state.RequestID),
		slog.String("intent", string(intent)),
		slog.String("target", routeLabel(target)),
	)

	state = state.WithRoute(intent, target)
	switch target {
	case TargetSQL:
		return state, nodeSQLGen
	case TargetLLM:
		return state, nodeLLM
	default:
		return state, nodeFallback
	}
}

func (a *Assistant) sqlGen(ctx context.Context, state State) (State, string) {
	result, err := a.deps.Generator.Generate(ctx, state.Input)
	if err != nil {
		a.deps.Logger.WarnContext(ctx, "sql generation failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("request_id", state.RequestID),
			slog.Any("error", err),
		)
		return state.WithSQLError(err), nodeLLM
	}
	a.deps.Logger.InfoContext(ctx, "sql generated",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("request_id", state.RequestID),
		slog.String("source", string(result.Source)),
		slog.String("rule", result.Rule),
	)
	return state.WithSQL(result), nodeDBExec
}

func (a *Assistant) dbExec(ctx context.Context, state State) (State, string) {
	rows, err := a.deps.Engine.Execute(ctx, query.Request{SQL: state.SQL.String(), RowLimit: a.deps.RowLimit})
	if err != nil {
		a.deps.Logger.WarnContext(ctx, "sql execution failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("request_id", state.RequestID),
			slog.Any("error", err),
		)
		return state.WithSQLError(fmt.Errorf("execute sql: %w", err)), nodeLLM
	}
	state = state.WithRows(rows)
	if state.WantExport {
		state = a.export(ctx, state)
	}
	return state, nodeFormat
}

func (a *Assistant) format(_ context.Context, state State) (State, string) {
	return state.WithOutput(format.Rows(state.Rows)), nodeEnd
}

func (a *Assistant) llm(ctx context.Context, state State) (State, string) {
	if a.deps.Model == nil {
		return state, nodeFallback
	}
	reply, err := a.deps.Model.Complete(ctx, nl2sql.CompletionRequest{
		System: a.deps.Prompts.ConversationSystem(),
		User:   state.Input,
		Model:  a.deps.ConversationModel,
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		if err == nil {
			err = errors.New("empty reply")
		}
		a.deps.Logger.WarnContext(ctx, "conversation model failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("request_id", state.RequestID),
			slog.Any("error", err),
		)
		return state, nodeFallback
	}
	return state.WithOutput(strings.TrimSpace(reply)), nodeEnd
}

func (a *Assistant) fallback(_ context.Context, state State) (State, string) {
	return state.WithOutput(FallbackMessage), nodeEnd
}

func (a *Assistant) export(ctx context.Context, state State) State {
	if a.deps.Exporter == nil {
		return state.WithExportError(errors.New("export is not enabled"))
	}
	out, err := a.deps.Exporter.Export(ctx, export.Request{
		RequestID: state.RequestID,
		Question:  state.Input,
		SQL:       state.SQL.String(),
		Result:    state.Rows,
	})
	if err != nil {
		a.deps.Logger.WarnContext(ctx, "export failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("request_id", state.RequestID),
			slog.Any("error", err),
		)
		return state.WithExportError(err)
	}
	return state.WithExport(out)
}

// record writes one audit entry per question. Audit failures are logged and
// do not change the answer.
func (a *Assistant) record(ctx context.Context, state State) {
	if a.deps.Audit == nil {
		return
	}
	entry := audit.Entry{
		User:   auth.UserFromContext(ctx, ""),
		Action: auditAction(state),
		Payload: map[string]any{
			"request_id": state.RequestID,
			"trace_id":   observability.TraceIDFromContext(ctx),
			"question":   state.Input,
			"intent":     string(state.Intent),
			"path":       state.Path,
		},
	}
	if state.SQL != "" {
		entry.Payload["sql"] = state.SQL.String()
		entry.Payload["source"] = string(state.SQLSource)
		entry.Payload["rows"] = len(state.Rows.Rows)
	}
	if state.SQLError != "" {
		entry.Payload["error"] = state.SQLError
	}
	if state.Export != nil {
		entry.Payload["export_key"] = state.Export.Key
	}
	if err := a.deps.Audit.Record(ctx, entry); err != nil {
		a.deps.Logger.WarnContext(ctx, "audit record failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("request_id", state.RequestID),
			slog.Any("error", err),
		)
	}
}

func auditAction(state State) string {
	last := ""
	if len(state.Path) > 0 {
		last = state.Path[len(state.Path)-1]
	}
	switch {
	case last == nodeFallback:
		return audit.ActionFallback
	case state.SQLError != "":
		return audit.ActionSQLRejected
	case state.SQL != "":
		return audit.ActionSQLGenerated
	default:
		return audit.ActionConversation
	}
}

func routeLabel(target Target) string {
	if target == TargetNone {
		return "none"
	}
	return string(target)
}
