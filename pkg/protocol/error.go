package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, if the client gives up while waiting for the vehicle to confirm a
	// climate-control request, the vehicle may still act on it.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as a
	// gateway error on the vendor's side or a dropped connection.
	Temporary() bool
}

var (
	// ErrLoginFailed matches any *LoginError with errors.Is.
	ErrLoginFailed = NewError("login failed", false, false)
	// ErrNonJSONResponse matches any *NonJSONError with errors.Is.
	ErrNonJSONResponse = NewError("non-JSON response received", true, false)
	// ErrMissingResultKey indicates the client tried to wait for an asynchronous command without
	// having issued one (or after the previous one was already collected).
	ErrMissingResultKey = NewError("no outstanding asynchronous operation: missing resultKey", false, false)
	// ErrTimeout matches any *TimeoutError with errors.Is.
	ErrTimeout = NewError("timed out waiting for vehicle", true, true)
	// ErrUnsupported indicates the active protocol generation has no endpoint for an operation.
	ErrUnsupported = errors.New("operation not supported by this protocol generation")
	// ErrInvalidResponse matches any *InvalidResponseError with errors.Is.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrResponseTooLarge indicates the server sent more than connector.MaxResponseLength bytes.
	ErrResponseTooLarge = errors.New("response exceeds maximum length")
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// LoginError indicates the vendor rejected the credentials or that its login response lacked
// identifiers the protocol generation requires. Body holds the raw response, if any.
type LoginError struct {
	Reason string
	Body   []byte
	Err    error
}

func (e *LoginError) Error() string {
	msg := "login failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Body) > 0 && e.Err == nil {
		msg += fmt.Sprintf(" (response: %s)", e.Body)
	}
	return msg
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

func (e *LoginError) Is(target error) bool {
	return target == ErrLoginFailed
}

func (e *LoginError) MayHaveSucceeded() bool {
	return false
}

func (e *LoginError) Temporary() bool {
	return Temporary(e.Err)
}

// RequestError is returned when an API call completes with a non-success status, either
// embedded in the response body or carried by the HTTP status line depending on the
// ResponseConvention.
type RequestError struct {
	Endpoint string
	Status   int
	Body     []byte
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request for '%s' failed with status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *RequestError) MayHaveSucceeded() bool {
	return false
}

func (e *RequestError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable ||
		e.Status == http.StatusGatewayTimeout ||
		e.Status == http.StatusBadGateway ||
		e.Status == http.StatusTooManyRequests
}

// NonJSONError is returned when the transport succeeded but the body could not be parsed.
type NonJSONError struct {
	Endpoint   string
	HTTPStatus int
	Body       []byte
}

func (e *NonJSONError) Error() string {
	return fmt.Sprintf("non-JSON response received for request to '%s' (HTTP %d): %q", e.Endpoint, e.HTTPStatus, e.Body)
}

func (e *NonJSONError) Is(target error) bool {
	return target == ErrNonJSONResponse
}

func (e *NonJSONError) MayHaveSucceeded() bool {
	return true
}

func (e *NonJSONError) Temporary() bool {
	return false
}

// TimeoutError is returned when the vehicle did not confirm an asynchronous command before the
// configured ceiling. The command may still complete; its result key is kept for a later Wait.
type TimeoutError struct {
	Endpoint string
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for result using '%s' after %s", e.Endpoint, e.Waited.Round(time.Second))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) MayHaveSucceeded() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return true
}

// TransportError wraps failures of the underlying HTTP exchange (DNS, TLS, connection resets,
// truncated bodies).
type TransportError struct {
	Endpoint string
	Err      error
	// Sent is true if the request may have reached the server.
	Sent bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error during request to %s: %s", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) MayHaveSucceeded() bool {
	return e.Sent
}

func (e *TransportError) Temporary() bool {
	return !errors.Is(e.Err, ErrResponseTooLarge)
}

// InvalidResponseError indicates a successful response whose payload is missing fields or
// carries values the client does not accept.
type InvalidResponseError struct {
	Endpoint string
	Reason   string
	Body     []byte
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response from '%s': %s: %s", e.Endpoint, e.Reason, e.Body)
}

func (e *InvalidResponseError) Is(target error) bool {
	return target == ErrInvalidResponse
}

// MayHaveSucceeded returns true if err is a CommandError that indicates the command may have been
// executed but the client did not receive a confirmation from the vehicle.
func MayHaveSucceeded(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) && commErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err is a CommandError that indicates the command failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) && commErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry to issue the command that triggered an error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var e Error
	if errors.As(err, &e) {
		if e.MayHaveSucceeded() {
			return false
		}
		if e.Temporary() {
			return true
		}
	}
	return false
}
