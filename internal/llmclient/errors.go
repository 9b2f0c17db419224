// File: internal/llmclient/errors.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind distinguishes why the decision backend could not answer.
type FailureKind string

const (
	// FailureConnection means the backend was unreachable.
	FailureConnection FailureKind = "CONNECTION_ERROR"
	// FailureTimeout means the backend did not answer in time.
	FailureTimeout FailureKind = "TIMEOUT_ERROR"
	// FailureBackend means the backend answered with an error status.
	FailureBackend FailureKind = "BACKEND_ERROR"
)

// ClientError is the typed failure surfaced to the automation loop. The loop
// counts these toward its consecutive-failure threshold the same way it
// counts parse errors.
type ClientError struct {
	Kind FailureKind
	Err  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// classifyTransport wraps a transport-level error as a timeout or a
// connection failure.
func classifyTransport(err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Kind: FailureTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Kind: FailureTimeout, Err: err}
	}
	return &ClientError{Kind: FailureConnection, Err: err}
}

// IsClientError reports whether err is a typed decision-client failure.
func IsClientError(err error) bool {
	var cerr *ClientError
	return errors.As(err, &cerr)
}
