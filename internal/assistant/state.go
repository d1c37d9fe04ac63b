package assistant

import (
	"github.com/stockpilot/stockpilot/internal/export"
	"github.com/stockpilot/stockpilot/internal/query"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
)

type Intent string

const (
	IntentInventory    Intent = "inventory"
	IntentConversation Intent = "conversation"
)

// Target is the node the router hands a question to. TargetNone sends it to
// the fallback node.
type Target string

const (
	TargetNone Target = ""
	TargetSQL  Target = "sql"
	TargetLLM  Target = "llm"
)

// State is passed by value between nodes. A node returns an updated copy and
// never mutates the state it received.
type State struct {
	RequestID   string
	Input       string
	WantExport  bool
	Intent      Intent
	Target      Target
	SQL         sqlgen.ValidatedSQL
	SQLSource   sqlgen.Source
	SQLRule     string
	SQLError    string
	Rows        query.Result
	Output      string
	Export      *export.Export
	ExportError string
	// Path lists the nodes visited, in order.
	Path []string
}

func (s State) WithRoute(intent Intent, target Target) State {
	s.Intent = intent
	s.Target = target
	return s
}

func (s State) WithSQL(result sqlgen.Result) State {
	s.SQL = result.SQL
	s.SQLSource = result.Source
	s.SQLRule = result.Rule
	s.SQLError = ""
	return s
}

func (s State) WithSQLError(err error) State {
	s.SQL = ""
	s.SQLSource = ""
	s.SQLRule = ""
	s.SQLError = err.Error()
	return s
}

func (s State) WithRows(rows query.Result) State {
	s.Rows = rows
	return s
}

func (s State) WithOutput(output string) State {
	s.Output = output
	return s
}

func (s State) WithExport(out export.Export) State {
	s.Export = &out
	s.ExportError = ""
	return s
}

func (s State) WithExportError(err error) State {
	s.Export = nil
	s.ExportError = err.Error()
	return s
}

func (s State) visit(node string) State {
	path := make([]string, len(s.Path), len(s.Path)+1)
	copy(path, s.Path)
	s.Path = append(path, node)
	return s
}
