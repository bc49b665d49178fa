package service

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("service transport failure")
	// ErrServiceReported matches every *ServiceError.
	ErrServiceReported = errors.New("service reported an error")
	// ErrInvalidParams is returned for detection parameters outside their ranges.
	ErrInvalidParams = errors.New("invalid detection parameters")
	// ErrInvalidDataURL is returned when an image payload is not a base64 data URL.
	ErrInvalidDataURL = errors.New("invalid data URL")
)

// TransportError is a network failure, a non-2xx status or an undecodable
// response body.
type TransportError struct {
	Action     Action
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Action, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ServiceError carries the message of a response whose error field was set.
type ServiceError struct {
	Action  Action
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: service error: %s", e.Action, e.Message)
}

// Is lets errors.Is(err, ErrServiceReported) match.
func (e *ServiceError) Is(target error) bool { return target == ErrServiceReported }
