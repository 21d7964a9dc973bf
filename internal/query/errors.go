package query

import (
	"errors"
	"fmt"
)

var ErrEmptyQuery = errors.New("query: sql text is empty")

// EmptyQueryError is returned before any database is contacted.
type EmptyQueryError struct {
	DatabaseID string
}

func (e *EmptyQueryError) Error() string {
	return fmt.Sprintf("empty sql for database %s", e.DatabaseID)
}

func (e *EmptyQueryError) Is(target error) bool {
	return target == ErrEmptyQuery
}

// ExecutionError carries the message reported by the database.
type ExecutionError struct {
	DatabaseID string
	SQL        string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute sql on database %s: %v", e.DatabaseID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
