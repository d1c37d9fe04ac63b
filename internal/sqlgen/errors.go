package sqlgen

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("sql validation failed")
	ErrGeneration   = errors.New("sql generation failed")
	ErrUnanswerable = errors.New("query cannot be answered by SQL")
)

type ValidationReason string

const (
	ReasonMultipleStatements ValidationReason = "multiple_statements"
	ReasonNotSelect          ValidationReason = "not_select"
	ReasonUnauthorizedTables ValidationReason = "unauthorized_tables"
)

// ValidationError is returned by Validator.Validate. Tables is only set for
// ReasonUnauthorizedTables and holds the sorted set difference.
type ValidationError struct {
	Reason ValidationReason
	Tables []string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonMultipleStatements:
		return "Multiple SQL statements are not allowed"
	case ReasonNotSelect:
		return "Only SELECT statements are allowed"
	case ReasonUnauthorizedTables:
		return fmt.Sprintf("Unauthorized tables: %s", strings.Join(e.Tables, ", "))
	default:
		return string(e.Reason)
	}
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

const unanswerableReason = "Query cannot be answered by SQL"

// GenerationError is returned by Generator.Generate when the model path
// fails: the model declined, or its output did not validate.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	if target == ErrGeneration {
		return true
	}
	return target == ErrUnanswerable && e.Reason == unanswerableReason
}
