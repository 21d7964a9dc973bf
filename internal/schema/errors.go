package schema

import "fmt"

// ConnectionError reports that the registered database could not be reached.
type ConnectionError struct {
	DatabaseID string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to database %s: %v", e.DatabaseID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IntrospectionError reports a failed catalog query.
type IntrospectionError struct {
	DatabaseID string
	Err        error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspect database %s: %v", e.DatabaseID, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }
