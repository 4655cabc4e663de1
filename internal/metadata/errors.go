package metadata

import (
	"errors"
	"fmt"
)

// Sentinel errors for catalog operations.
var (
	ErrNotFound    = errors.New("catalog: not found")
	ErrRateLimited = errors.New("catalog: rate limited by server")
	ErrBadRequest  = errors.New("catalog: bad request")
	ErrServer      = errors.New("catalog: server error")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op    string // "search", "cover", "page"
	Query string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog %s %q: %v", e.Op, e.Query, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, query string, err error) error {
	return &Error{Op: op, Query: query, Err: err}
}
