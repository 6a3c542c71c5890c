// Package agent provides the resilient HTTP client used to call the
// course-generation agent services.
package agent

import (
	"errors"
	"fmt"
)

// ErrUnknownAgent indicates a call was attempted against an agent name
// that is not part of the configured set.
var ErrUnknownAgent = errors.New("unknown agent")

// FailureKind classifies why an agent call failed.
type FailureKind string

const (
	FailureTimeout           FailureKind = "timeout"
	FailureConnection        FailureKind = "connection"
	FailureHTTPError         FailureKind = "http_error"
	FailureMalformedResponse FailureKind = "malformed_response"
)

// CallError is the typed failure returned when an agent call cannot be
// completed. It carries the failure class so the orchestrator can
// distinguish "agent is down" from "agent returned bad data".
type CallError struct {
	Agent      Name
	Path       string
	Kind       FailureKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("agent %s call %s failed (%s, %d attempts): %v", e.Agent, e.Path, e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the failure means the agent could not be
// reached at all, as opposed to answering with a bad response.
func (e *CallError) Unreachable() bool {
	return e.Kind == FailureTimeout || e.Kind == FailureConnection
}

// Retryable reports whether another attempt may help. Connection
// failures, timeouts and 5xx responses are transient; 4xx responses and
// malformed payloads are not.
func (e *CallError) Retryable() bool {
	if e.Kind == FailureTimeout || e.Kind == FailureConnection {
		return true
	}

	return e.Kind == FailureHTTPError && e.StatusCode >= 500
}

// AsCallError unwraps err into a *CallError if it is one.
func AsCallError(err error) (*CallError, bool) {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr, true
	}

	return nil, false
}
