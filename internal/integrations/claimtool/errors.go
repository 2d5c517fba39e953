package claimtool

import (
	"errors"
	"fmt"
)

// ErrSessionTokenMissing is returned when the session request yields no
// usable ew_ct cookie, whatever the response status was.
var ErrSessionTokenMissing = errors.New("claimtool: no ew_ct cookie found in the response")

// ErrResponseTooLarge is returned when a decision body exceeds the read limit.
var ErrResponseTooLarge = errors.New("claimtool: decision response exceeds size limit")

// Request stages, used to tell the two calls apart in errors and logs.
const (
	StageSession  = "session"
	StageDecision = "decision"
)

// TransportError wraps network-level failures: DNS, refused connections,
// timeouts and broken bodies.
type TransportError struct {
	Stage string
	URL   string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("claimtool: %s request to %s failed: %v", e.Stage, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError captures a non-200 decision response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("claimtool: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// ResponseFormatError is returned when a 200 decision body is not a JSON object.
type ResponseFormatError struct {
	Body string
	Err  error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("claimtool: decode decision response: %v", e.Err)
}

func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}
