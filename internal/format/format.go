// Package format renders query results for display.
package format

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/stockpilot/stockpilot/internal/query"
)

const (
	NoResults = "No results found."
	nullText  = "NULL"
)

// Rows renders result as an aligned text table with a header and a
// separator line.
func Rows(result query.Result) string {
	if len(result.Rows) == 0 {
		return NoResults
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	separators := make([]string, len(result.Columns))
	for i, column := range result.Columns {
		separators[i] = strings.Repeat("-", len(column))
	}
	writeLine(w, result.Columns)
	writeLine(w, separators)

	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i := range result.Columns {
			if i < len(row) {
				cells[i] = Cell(row[i])
			} else {
				cells[i] = nullText
			}
		}
		writeLine(w, cells)
	}
	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// Cell renders a single value.
func Cell(value any) string {
	switch typed := value.(type) {
	case nil:
		return nullText
	case string:
		return typed
	case []byte:
		return string(typed)
	case float64:
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprint(typed)
	}
}

func writeLine(w *tabwriter.Writer, cells []string) {
	for i, cell := range cells {
		cell = strings.ReplaceAll(strings.ReplaceAll(cell, "\t", " "), "\n", " ")
		if i > 0 {
			_, _ = w.Write([]byte("\t"))
		}
		_, _ = w.Write([]byte(cell))
	}
	_, _ = w.Write([]byte("\n"))
}
