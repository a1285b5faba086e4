package backend

import (
	"context"
	"errors"
	"fmt"

	"srcgrep/internal/domain"
)

// Common errors
var (
	ErrUnknownRepository = errors.New("unknown repository")
	ErrEmptyQuery        = errors.New("query cannot be empty")
	ErrInvalidPattern    = errors.New("invalid search pattern")
)

// TransportError wraps any failure talking to a search backend
type TransportError struct {
	Op         string
	Repository domain.Repository
	Query      string
	Err        error
}

// NewTransportError creates a transport error for op
func NewTransportError(op string, repo domain.Repository, query string, err error) *TransportError {
	return &TransportError{
		Op:         op,
		Repository: repo,
		Query:      query,
		Err:        err,
	}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s for %q failed: %v", e.Op, e.Repository, e.Query, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by a deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err was caused by cancellation
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
