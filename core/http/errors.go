package http

import (
	"errors"
	"fmt"

	"github.com/searchktools/coroserve/core/coro"
)

// ResponseRepresentable is implemented by errors that map to a response.
type ResponseRepresentable interface {
	Response() *Response
}

// StatusError is an error with an HTTP status. Its response carries only the
// generic reason phrase, never Message or Cause.
type StatusError struct {
	Status  Status
	Message string
	Headers Headers
	Cause   error
}

// NewStatusError creates a StatusError.
func NewStatusError(status Status, message string) *StatusError {
	return &StatusError{Status: status, Message: message}
}

func (e *StatusError) Error() string {
	msg := "http: " + e.Status.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

// Is matches another StatusError with the same status and message, so
// copies made by Wrap and WithHeader still match their sentinel.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	return ok && t.Status == e.Status && t.Message == e.Message
}

// Wrap returns a copy of e caused by err.
func (e *StatusError) Wrap(err error) *StatusError {
	c := *e
	c.Headers = e.Headers.Clone()
	c.Cause = err
	return &c
}

// WithHeader returns a copy of e that adds a header to its response.
func (e *StatusError) WithHeader(name, value string) *StatusError {
	c := *e
	c.Headers = e.Headers.Clone()
	c.Headers.Set(name, value)
	return &c
}

// Response implements ResponseRepresentable.
func (e *StatusError) Response() *Response {
	res := Text(e.Status, e.Status.Reason())
	e.Headers.Each(func(name, value string) bool {
		res.Headers.Set(name, value)
		return true
	})
	return res
}

// ResponseFor converts err into a response if it is representable.
// Cancellation is never representable.
func ResponseFor(err error) (*Response, bool) {
	if err == nil || coro.IsCanceled(err) {
		return nil, false
	}
	var rr ResponseRepresentable
	if !errors.As(err, &rr) {
		return nil, false
	}
	return rr.Response(), true
}

// Errorf returns a StatusError with a formatted message.
func Errorf(status Status, format string, args ...any) *StatusError {
	return NewStatusError(status, fmt.Sprintf(format, args...))
}

// Request handling errors
var (
	ErrBadRequest           = NewStatusError(StatusBadRequest, "")
	ErrUnauthorized         = NewStatusError(StatusUnauthorized, "")
	ErrForbidden            = NewStatusError(StatusForbidden, "")
	ErrNotFound             = NewStatusError(StatusNotFound, "")
	ErrMethodNotAllowed     = NewStatusError(StatusMethodNotAllowed, "")
	ErrNotAcceptable        = NewStatusError(StatusNotAcceptable, "")
	ErrUnsupportedMediaType = NewStatusError(StatusUnsupportedMediaType, "")
	ErrTooManyRequests      = NewStatusError(StatusTooManyRequests, "")
	ErrInternal             = NewStatusError(StatusInternalServerError, "")
	ErrNotImplemented       = NewStatusError(StatusNotImplemented, "")
	ErrServiceUnavailable   = NewStatusError(StatusServiceUnavailable, "")

	ErrCannotExpressParameter = NewStatusError(StatusBadRequest, "cannot express parameter")
)

// Parse errors
var (
	ErrInvalidStartLine            = NewStatusError(StatusBadRequest, "invalid start line")
	ErrInvalidMethod               = NewStatusError(StatusBadRequest, "invalid method")
	ErrInvalidVersion              = NewStatusError(StatusBadRequest, "invalid version")
	ErrVersionNotSupported         = NewStatusError(StatusHTTPVersionNotSupported, "version not supported")
	ErrInvalidHeader               = NewStatusError(StatusBadRequest, "invalid header")
	ErrInvalidContentLength        = NewStatusError(StatusBadRequest, "invalid content length")
	ErrInvalidChunkSize            = NewStatusError(StatusBadRequest, "invalid chunk size")
	ErrInvalidChunk                = NewStatusError(StatusBadRequest, "invalid chunk")
	ErrUnsupportedTransferEncoding = NewStatusError(StatusNotImplemented, "unsupported transfer encoding")
	ErrHeaderTooLarge              = NewStatusError(StatusRequestHeaderFieldsTooLarge, "header too large")
	ErrBodyTooLarge                = NewStatusError(StatusPayloadTooLarge, "body too large")
	ErrUnexpectedEOF               = NewStatusError(StatusBadRequest, "unexpected end of message")
)
