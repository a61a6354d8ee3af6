package core

// validation.go defines the error types raised while reading input.
//
// Errors fall into three groups:
//  1. Configuration: the column schema or reinstatement columns are unusable
//  2. Validation: the table as a whole is unusable (empty, missing columns,
//     nulls, duplicate ids)
//  3. Parse: a single cell could not be coerced
//
// Each type reports a Code so callers can branch without string matching.

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error for reporting.
type Code string

const (
	CodeInvalidConfig    Code = "INVALID_CONFIG"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeParseFailed      Code = "PARSE_FAILED"
	CodeRemoteFailed     Code = "REMOTE_FAILED"
	CodeTimeout          Code = "TIMEOUT"
)

// Coder is implemented by errors that carry a Code.
type Coder interface {
	Code() Code
}

// CodeOf returns the code of the first error in the chain that has one.
func CodeOf(err error) (Code, bool) {
	var c Coder
	if errors.As(err, &c) {
		return c.Code(), true
	}
	return "", false
}

// Sentinels wrapped by ValidationError.
var (
	ErrEmptyInput     = errors.New("input is empty")
	ErrMissingColumns = errors.New("missing required columns")
	ErrNullValue      = errors.New("empty value in required column")
	ErrDuplicateID    = errors.New("duplicate identifier")
)

// ConfigError is a problem with the configuration, found before any row is read.
type ConfigError struct {
	Section string
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Section != "" && e.Key != "":
		return fmt.Sprintf("configuration [%s] %s: %s", e.Section, e.Key, e.Message)
	case e.Key != "":
		return fmt.Sprintf("configuration %s: %s", e.Key, e.Message)
	default:
		return "configuration: " + e.Message
	}
}

func (e *ConfigError) Code() Code { return CodeInvalidConfig }

// ValidationError represents a table-level validation failure.
type ValidationError struct {
	Field   string // Column name(s)
	Value   string // The offending value, if any
	Message string // Human-readable error message
	Err     error  // Sentinel for errors.Is
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Value != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Value)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Code() Code { return CodeValidationFailed }

// ParseError is a cell that could not be coerced.
type ParseError struct {
	Record string // Layer id or row reference
	Field  string // Column name
	Value  string // Raw cell text
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.Record != "" {
		fmt.Fprintf(&b, "%s: ", e.Record)
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("invalid value")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " in %s", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, ": %q", e.Value)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Code() Code { return CodeParseFailed }

// RequireColumns checks that every named source column exists in the table.
// The error lists all missing columns, not just the first.
func RequireColumns(t *Table, kind string, columns []string) error {
	var missing []string
	for _, c := range columns {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{
		Field:   strings.Join(missing, ", "),
		Message: fmt.Sprintf("%s input is missing required columns", kind),
		Err:     ErrMissingColumns,
	}
}
