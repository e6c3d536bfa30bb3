package store

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Result is a fully materialized result set.
type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Executor runs one SQL statement against the relational store.
//
// Implementations report an undefined column with an error whose message
// contains "Unknown column '<identifier>'", whatever the underlying engine.
type Executor interface {
	Query(ctx context.Context, sqlText string) (Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// UnknownColumnError is the engine-neutral form of an undefined column error.
type UnknownColumnError struct {
	Identifier string
	Clause     string
	Err        error
}

func (e *UnknownColumnError) Error() string {
	clause := e.Clause
	if clause == "" {
		clause = "field list"
	}
	return fmt.Sprintf("Unknown column '%s' in '%s'", e.Identifier, clause)
}

func (e *UnknownColumnError) Unwrap() error { return e.Err }

var unknownColumnPattern = regexp.MustCompile(`Unknown column '([^']+)'`)

// UnknownColumnIdentifier extracts the identifier from an "Unknown column"
// message.
func UnknownColumnIdentifier(message string) (string, bool) {
	match := unknownColumnPattern.FindStringSubmatch(message)
	if match == nil {
		return "", false
	}
	return match[1], true
}
