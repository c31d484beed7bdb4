package engine

import (
	"fmt"

	"github.com/brewkit/assistant-engine/internal/correlation"
)

// RemoteError is a failure reported by the remote agent service for a named
// operation. Transport layers translate it into a 502-class response.
type RemoteError struct {
	Operation     string
	CorrelationID string
	Err           error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("failed to %s (correlation_id: %s)", e.Operation, correlation.Truncate(e.CorrelationID))
}

func (e *RemoteError) Unwrap() error { return e.Err }

// UnexpectedError is any orchestration failure not classified as a remote
// service error. Transport layers translate it into a 500-class response.
type UnexpectedError struct {
	Operation     string
	CorrelationID string
	Err           error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("internal server error (correlation_id: %s)", correlation.Truncate(e.CorrelationID))
}

func (e *UnexpectedError) Unwrap() error { return e.Err }
