package domain

import (
	"errors"
	"strings"
)

// ErrAggregateInconsistency marks a ledger whose aggregates disagree with its stored operations.
var ErrAggregateInconsistency = errors.New("aggregate inconsistency")

// Violation is one failed intake check.
// Params: offending field, rule name and readable message.
// Returns: entry of a ValidationError.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every check an inbound record failed.
// Params: all collected violations.
// Returns: caller-fixable error; the store is never mutated when returned.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

// Error joins all violation messages.
// Params: none.
// Returns: "validation failed: a; b".
func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		messages = append(messages, violation.Message)
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// Add appends one violation.
// Params: field, rule and message.
// Returns: nothing.
func (e *ValidationError) Add(field, rule, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Rule: rule, Message: message})
}

// Err returns the error when at least one violation was collected.
// Params: none.
// Returns: nil or the receiver.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Messages returns the violation messages in order.
// Params: none.
// Returns: message list.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		out = append(out, violation.Message)
	}
	return out
}

// AsValidation extracts a ValidationError from an error chain.
// Params: candidate error.
// Returns: validation error and true when present.
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
