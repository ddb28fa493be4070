package upnperr

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// TypeNetwork indicates a network-level error (unreachable host, reset connection)
	TypeNetwork ErrorType = iota
	// TypeTimeout indicates a request or read timeout
	TypeTimeout
	// TypeConnectionRefused indicates the remote device refused the connection
	TypeConnectionRefused
	// TypeDNS indicates a host name in a Location or event URL did not resolve
	TypeDNS
	// TypeHTTP indicates an HTTP-level error (unexpected status code)
	TypeHTTP
	// TypeParse indicates a malformed message or description document
	TypeParse
	// TypeProtocol indicates a protocol violation (missing GENA headers, duplicate Content-Length)
	TypeProtocol
	// TypeState indicates an operation on state that does not exist (unknown SID)
	TypeState
	// TypeUnknown indicates an unknown or unexpected error
	TypeUnknown
)

// String returns a human-readable name for the error type
func (t ErrorType) String() string {
	switch t {
	case TypeNetwork:
		return "Network Error"
	case TypeTimeout:
		return "Timeout"
	case TypeConnectionRefused:
		return "Connection Refused"
	case TypeDNS:
		return "DNS Error"
	case TypeHTTP:
		return "HTTP Error"
	case TypeParse:
		return "Parse Error"
	case TypeProtocol:
		return "Protocol Error"
	case TypeState:
		return "State Error"
	case TypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// Error is the error returned by operations that talk to remote devices.
type Error struct {
	Type       ErrorType // Category of error
	Message    string    // Human-readable error message
	StatusCode int       // HTTP status code (if applicable)
	Err        error     // Underlying error (if any)
	Remote     string    // Remote host or URL (for context)
	Retryable  bool      // Whether the error is retryable
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := e.Type.String()
	if e.Remote != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.Remote)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify analyzes a transport error and returns a typed Error.
// It returns nil for a nil error and passes an existing *Error through.
func Classify(err error, remote string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	if os.IsTimeout(err) {
		return &Error{Type: TypeTimeout, Message: "request timed out", Err: err, Remote: remote, Retryable: true}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{
			Type:    TypeDNS,
			Message: fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Err:     err,
			Remote:  remote,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return &Error{Type: TypeConnectionRefused, Message: "device refused connection", Err: err, Remote: remote, Retryable: true}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return &Error{Type: TypeNetwork, Message: "host unreachable", Err: err, Remote: remote, Retryable: true}
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &Error{Type: TypeNetwork, Message: "network unreachable", Err: err, Remote: remote, Retryable: true}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != err {
		return Classify(urlErr.Err, remote)
	}

	return &Error{Type: TypeNetwork, Message: "network error occurred", Err: err, Remote: remote, Retryable: true}
}

// NewNetworkError creates a network-level error with automatic classification
func NewNetworkError(message, remote string, err error) *Error {
	classified := Classify(err, remote)
	if classified == nil {
		return &Error{Type: TypeNetwork, Message: message, Remote: remote, Retryable: true}
	}
	out := *classified
	out.Message = message
	return &out
}

// NewHTTPError creates an HTTP-level error. Server errors are retryable.
func NewHTTPError(statusCode int, remote, message string) *Error {
	return &Error{
		Type:       TypeHTTP,
		Message:    message,
		StatusCode: statusCode,
		Remote:     remote,
		Retryable:  statusCode >= 500,
	}
}

// NewParseError creates a parsing error
func NewParseError(message string, err error) *Error {
	return &Error{Type: TypeParse, Message: message, Err: err}
}

// NewProtocolError creates a protocol violation error
func NewProtocolError(message string, err error) *Error {
	return &Error{Type: TypeProtocol, Message: message, Err: err}
}

// NewStateError creates a state error wrapping a package sentinel
func NewStateError(message string, err error) *Error {
	return &Error{Type: TypeState, Message: message, Err: err}
}

func typeOf(err error) (ErrorType, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return TypeUnknown, false
}

// IsNetworkError checks if an error is a network error (including timeout, connection refused, DNS)
func IsNetworkError(err error) bool {
	t, ok := typeOf(err)
	return ok && (t == TypeNetwork || t == TypeTimeout || t == TypeConnectionRefused || t == TypeDNS)
}

// IsHTTPError checks if an error is an HTTP error
func IsHTTPError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == TypeHTTP
}

// IsParseError checks if an error is a parse error
func IsParseError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == TypeParse
}

// IsProtocolError checks if an error is a protocol violation
func IsProtocolError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == TypeProtocol
}

// IsStateError checks if an error is a state error
func IsStateError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == TypeState
}

// IsRetryable checks if an error should be retried.
// Errors outside the taxonomy are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// ShortMessage returns a concise, user-friendly error message for CLI output
func ShortMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	switch e.Type {
	case TypeTimeout:
		return "Device not responding (timeout)"
	case TypeConnectionRefused:
		return "Device refused connection"
	case TypeDNS:
		return "Cannot resolve device hostname"
	case TypeNetwork:
		return "Network error - check connection"
	case TypeHTTP:
		return fmt.Sprintf("Device error (HTTP %d)", e.StatusCode)
	case TypeParse:
		return "Failed to parse device response"
	default:
		return e.Message
	}
}
