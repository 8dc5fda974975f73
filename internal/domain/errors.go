package domain

import (
	"errors"
	"fmt"
)

// TransportError means the remote service could not be reached or answered
// with a server error. StatusCode is 0 when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: remote returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError means the referenced school does not exist remotely.
type NotFoundError struct {
	Op       string
	SchoolID SchoolID
	Detail   string
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: school %s not found: %s", e.Op, e.SchoolID, e.Detail)
	}
	return fmt.Sprintf("%s: school %s not found", e.Op, e.SchoolID)
}

// ValidationRejection means the remote service refused a request body.
// Reason is shown to the user as-is.
type ValidationRejection struct {
	StatusCode int
	Reason     string
}

func (e *ValidationRejection) Error() string {
	return fmt.Sprintf("generation rejected (%d): %s", e.StatusCode, e.Reason)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
