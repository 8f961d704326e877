package coro

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a deadline passes before an operation completes.
	ErrTimeout = errors.New("coro: deadline exceeded")

	// ErrCanceled is returned when the calling coroutine's group was canceled.
	// It must travel up the stack untouched; application-level catch-alls
	// check IsCanceled before converting errors into responses.
	ErrCanceled = errors.New("coro: canceled")
)

// IsCanceled reports whether err stems from group cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err stems from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// canceled maps a done context into ErrCanceled, keeping the cause visible.
func canceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, ErrCanceled) || errors.Is(cause, context.Canceled) {
		return ErrCanceled
	}
	return errors.Join(ErrCanceled, cause)
}
