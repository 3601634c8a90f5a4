package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Violation rule names.
const (
	RuleRequired   = "required"
	RuleTooShort   = "too_short"
	RuleTooLong    = "too_long"
	RuleCount      = "count"
	RuleOutOfRange = "out_of_range"
	RuleMismatch   = "mismatch"
	RuleDecode     = "decode"
)

// Violation is one structural defect in a draft.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error lists every violation found in a draft.
type Error struct {
	Violations []Violation
}

// Error implements error.
func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return fmt.Sprintf("schema validation failed (%d violations): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Fields returns the offending field paths in order.
func (e *Error) Fields() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Field
	}
	return out
}

// IsSchemaError reports whether err is or wraps a schema *Error.
func IsSchemaError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
