package gateway

import (
	"errors"
	"fmt"
)

// Outcome classifies a gateway call.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailedTerminal  Outcome = "failed_terminal"
	OutcomeFailedRetryable Outcome = "failed_retryable"
)

// Error is a failed gateway call.
type Error struct {
	Op      string
	Outcome Outcome
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s %s (%s): %s", e.Op, e.Outcome, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s %s: %s", e.Op, e.Outcome, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed later.
func (e *Error) Retryable() bool { return e.Outcome == OutcomeFailedRetryable }

// OutcomeOf maps any error returned by a Gateway to its outcome. Errors that
// did not come from the gateway are treated as retryable.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSucceeded
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Outcome
	}
	return OutcomeFailedRetryable
}

// IsRetryable is shorthand for OutcomeOf(err) == OutcomeFailedRetryable.
func IsRetryable(err error) bool {
	return OutcomeOf(err) == OutcomeFailedRetryable
}

func terminal(op, code, message string) *Error {
	return &Error{Op: op, Outcome: OutcomeFailedTerminal, Code: code, Message: message}
}

func retryable(op, message string, err error) *Error {
	return &Error{Op: op, Outcome: OutcomeFailedRetryable, Message: message, Err: err}
}
