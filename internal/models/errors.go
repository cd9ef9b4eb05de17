package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidRuleName  = errors.New("invalid rule name")
	ErrMissingCondition = errors.New("rule must have a condition")
	ErrInvalidWebhook   = errors.New("invalid webhook URL")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrTriggerNotFound  = errors.New("trigger not found")
	ErrDuplicateRule    = errors.New("rule name already exists")

	// Evaluation failures, carried by EvaluationError
	ErrMissingField      = errors.New("missing snapshot field")
	ErrIncompatibleTypes = errors.New("incompatible operand types")
	ErrNotArity          = errors.New("NOT requires exactly one child")
	ErrMalformedNode     = errors.New("malformed condition node")
)

// ValidationError reports a grammar violation in a condition tree.
// Path locates the offending node, e.g. "$.conditions[1]".
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid condition at %s: %s", e.Path, e.Reason)
}

// Unwrap lets callers match any validation failure with ErrInvalidCondition
func (e *ValidationError) Unwrap() error {
	return ErrInvalidCondition
}

// EvaluationError reports why a condition tree could not be evaluated
// against a snapshot.
type EvaluationError struct {
	Path string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate condition at %s: %v", e.Path, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
