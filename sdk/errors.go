package sdk

import (
	"errors"
	"fmt"
)

// ErrServerRejected is returned when the server answers with a well-formed
// response carrying success=false. It is a negative outcome, not a transport
// failure: the caller should not retry.
var ErrServerRejected = errors.New("devicegate: server rejected the request")

// ConfigurationError reports a missing credential or user id. It is a caller
// programming error and is raised before any network I/O.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "devicegate: configuration error: " + e.Reason
}

// TransportError reports a network-level failure (timeout, DNS, TLS) or an
// unexpected HTTP status. It carries the underlying cause and is retryable
// at the caller's discretion.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("devicegate: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a malformed server payload. Not retryable.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("devicegate: %s: decoding response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
