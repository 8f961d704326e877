package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
)

// PanicError is a panic raised below Recovery, turned into an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recovery converts errors from next that are representable as responses.
// Other errors, panics included, are logged and returned so the server
// closes the connection after a generic 500. Cancellation passes through
// untouched.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(req *http.Request, next Handler) (res *http.Response, err error) {
		defer func() {
			if v := recover(); v != nil {
				res, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
				logger.Error("panic recovered",
					"method", req.Method, "path", req.URI.Path,
					"panic", v, "stack", string(err.(*PanicError).Stack))
			}
		}()

		res, err = next(req)
		if err == nil || coro.IsCanceled(err) {
			return res, err
		}
		if converted, ok := http.ResponseFor(err); ok {
			return converted, nil
		}
		logger.Error("unrecovered error", "method", req.Method, "path", req.URI.Path, "error", err)
		return nil, err
	})
}

// Logger logs one line per request.
func Logger(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		start := time.Now()
		res, err := next(req)
		attrs := []any{
			"method", req.Method,
			"path", req.URI.Path,
			"duration", time.Since(start),
		}
		if id, ok := req.Value(RequestIDKey); ok {
			attrs = append(attrs, "request_id", id)
		}
		if err != nil {
			logger.Warn("request failed", append(attrs, "error", err)...)
			return res, err
		}
		logger.Info("request", append(attrs, "status", int(res.Status))...)
		return res, nil
	})
}
