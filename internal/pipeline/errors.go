package pipeline

import (
	"errors"

	"github.com/sqlscribe/sqlscribe/internal/execution"
)

var (
	ErrQuestionRequired  = errors.New("question is required")
	ErrSchemaUnavailable = errors.New("no schema loaded, please check database connection")
	ErrCompletionFailed  = errors.New("failed to generate SQL query")
	ErrNotReadOnly       = errors.New("only read-only statements may be executed")
)

// ExecutionError is returned when the store rejected every attempt. Attempt
// carries what was generated so the caller can diagnose the failure.
type ExecutionError struct {
	Attempt Attempt
	Failure *execution.Failure
}

func (e *ExecutionError) Error() string {
	if e.Failure == nil {
		return "execution failed"
	}
	return e.Failure.Message
}

func (e *ExecutionError) Unwrap() error {
	if e.Failure == nil {
		return nil
	}
	return e.Failure
}
