package usecase

import "fmt"

// ErrorKind tags the stage and category of a failed check.
type ErrorKind string

const (
	ErrorConfiguration       ErrorKind = "CONFIGURATION_ERROR"
	ErrorTransport           ErrorKind = "TRANSPORT_ERROR"
	ErrorSessionTokenMissing ErrorKind = "SESSION_TOKEN_MISSING"
	ErrorHTTPStatus          ErrorKind = "HTTP_STATUS_ERROR"
	ErrorResponseFormat      ErrorKind = "RESPONSE_FORMAT_ERROR"
	ErrorInternal            ErrorKind = "INTERNAL_ERROR"
)

// Error is returned by CheckService.Check for every failure. Key is set for
// configuration errors, StatusCode for HTTP status errors.
type Error struct {
	Kind       ErrorKind
	Reason     string
	Key        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}
