package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks failures where no usable response was received.
	ErrNetwork = errors.New("ticket store unreachable")
	// ErrRejected marks non-2xx responses from the ticket store.
	ErrRejected = errors.New("ticket store rejected request")
)

// NetworkError is returned when a request could not be sent, no response
// arrived, or the response body could not be decoded.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// RejectedError is returned for any non-2xx response.
type RejectedError struct {
	Method     string
	Path       string
	StatusCode int
	Type       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: server returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: server returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }
