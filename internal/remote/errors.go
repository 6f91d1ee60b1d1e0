package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrSkipped is returned by WriteDocument when another write is already in
// flight. The dropped write is not an error condition for callers: the
// in-flight write carries equivalent data.
var ErrSkipped = errors.New("remote: write skipped, another write in flight")

// AuthError indicates the remote store rejected our credential. The
// orchestrator treats these as terminal until the user re-authenticates.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: authentication rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("remote: authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates a transport-level failure: timeouts, connection
// resets, DNS errors. These are retryable with backoff.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote: network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// GenericError covers every remote failure that is neither an auth
// rejection nor a transport fault, e.g. an unexpected 5xx or a garbled
// response envelope.
type GenericError struct {
	Status int
	Err    error
}

func (e *GenericError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: request failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("remote: request failed: %v", e.Err)
}

func (e *GenericError) Unwrap() error { return e.Err }

// classifyStatus maps a non-2xx HTTP status onto the error taxonomy.
func classifyStatus(status int, err error) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Status: status, Err: err}
	default:
		return &GenericError{Status: status, Err: err}
	}
}

// classifyTransport maps a client-side request failure onto the error
// taxonomy. Context cancellation passes through untouched so callers can
// distinguish shutdown from genuine network trouble.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &NetworkError{Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &NetworkError{Err: err}
	}
	return &GenericError{Err: err}
}
