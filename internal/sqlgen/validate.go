package sqlgen

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ValidatedSQL is a statement that passed every Validator check. Only values
// of this type are handed to execution.
type ValidatedSQL string

func (s ValidatedSQL) String() string {
	return string(s)
}

// TableNameProvider returns the live set of tables a statement may
// reference. It is consulted on every call and never cached.
type TableNameProvider interface {
	TableNames(ctx context.Context) ([]string, error)
}

var (
	selectPrefixPattern = regexp.MustCompile(`(?i)^\s*select\b`)
	fromTablePattern    = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z0-9_]+)`)
	joinTablePattern    = regexp.MustCompile(`(?i)\bjoin\s+([A-Za-z0-9_]+)`)
)

type Validator struct {
	Tables TableNameProvider
}

func NewValidator(tables TableNameProvider) *Validator {
	return &Validator{Tables: tables}
}

// Validate runs the statement-count, SELECT-only and table allow-list checks
// in that order. The input is never rewritten.
func (v *Validator) Validate(ctx context.Context, sqlText string) (ValidatedSQL, error) {
	if strings.Count(sqlText, ";") > 1 {
		return "", &ValidationError{Reason: ReasonMultipleStatements}
	}
	if !selectPrefixPattern.MatchString(sqlText) {
		return "", &ValidationError{Reason: ReasonNotSelect}
	}

	allowed, err := v.allowedTables(ctx)
	if err != nil {
		return "", err
	}
	var unauthorized []string
	for _, table := range ReferencedTables(sqlText) {
		if _, ok := allowed[table]; !ok {
			unauthorized = append(unauthorized, table)
		}
	}
	if len(unauthorized) > 0 {
		return "", &ValidationError{Reason: ReasonUnauthorizedTables, Tables: unauthorized}
	}
	return ValidatedSQL(sqlText), nil
}

func (v *Validator) allowedTables(ctx context.Context) (map[string]struct{}, error) {
	if v.Tables == nil {
		return nil, fmt.Errorf("table name provider is required")
	}
	names, err := v.Tables.TableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load table names: %w", err)
	}
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		allowed[name] = struct{}{}
	}
	return allowed, nil
}

// ReferencedTables returns the sorted, de-duplicated identifiers that follow
// FROM or JOIN. Subqueries, CTEs and schema qualifiers are not understood.
func ReferencedTables(sqlText string) []string {
	seen := map[string]struct{}{}
	for _, pattern := range []*regexp.Regexp{fromTablePattern, joinTablePattern} {
		for _, groups := range pattern.FindAllStringSubmatch(sqlText, -1) {
			seen[groups[1]] = struct{}{}
		}
	}
	tables := make([]string, 0, len(seen))
	for table := range seen {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}
