// Package query holds the execution contract shared by the inventory
// store, the assistant graph and the row formatter.
package query

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

// ErrMultipleStatements is returned when text follows a statement
// terminator.
var ErrMultipleStatements = errors.New("multiple statements are not allowed")

// Request carries a statement that already passed validation. RowLimit <= 0
// means no limit.
type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns []string
	Rows    [][]any
	// Truncated is set when RowLimit stopped the scan before the last row.
	Truncated bool
	Duration  time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// SingleStatement returns the text before the first statement terminator.
// Only whitespace, comments and further terminators may follow it; anything
// else is a second statement and yields ErrMultipleStatements. Terminators
// inside string literals, quoted identifiers and comments are ignored.
func SingleStatement(sqlText string) (string, error) {
	end := -1
	for i := 0; i < len(sqlText); {
		c := sqlText[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			if end >= 0 {
				return "", ErrMultipleStatements
			}
			i = skipPast(sqlText, i+1, string(c))
			continue
		case strings.HasPrefix(sqlText[i:], "--"):
			i = skipPast(sqlText, i+2, "\n")
			continue
		case strings.HasPrefix(sqlText[i:], "/*"):
			i = skipPast(sqlText, i+2, "*/")
			continue
		case c == ';':
			if end < 0 {
				end = i
			}
		case end >= 0 && !unicode.IsSpace(rune(c)):
			return "", ErrMultipleStatements
		}
		i++
	}
	if end >= 0 {
		sqlText = sqlText[:end]
	}
	return strings.TrimSpace(sqlText), nil
}

// skipPast returns the index just after the next closer at or after from,
// or len(s) when there is none.
func skipPast(s string, from int, closer string) int {
	if from >= len(s) {
		return len(s)
	}
	idx := strings.Index(s[from:], closer)
	if idx < 0 {
		return len(s)
	}
	return from + idx + len(closer)
}
