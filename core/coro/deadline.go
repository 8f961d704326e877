package coro

import (
	"math"
	"time"
)

// Deadline is an absolute point on the process monotonic clock, in
// nanoseconds since the clock's epoch. Never is the only negative value.
type Deadline int64

// Never is the deadline that never expires.
const Never Deadline = -1

// epoch carries a monotonic reading, so every Deadline derived from it is
// immune to wall clock changes.
var epoch = time.Now()

// Now returns the current point on the monotonic clock.
func Now() Deadline {
	return Deadline(time.Since(epoch))
}

// After returns the deadline d from now. A negative or zero d yields an
// already expired deadline.
func After(d time.Duration) Deadline {
	if d <= 0 {
		return Now()
	}
	now := Now()
	if int64(now) > math.MaxInt64-int64(d) {
		return Deadline(math.MaxInt64)
	}
	return now + Deadline(d)
}

// At converts a wall clock time into a deadline. The zero time means Never.
func At(t time.Time) Deadline {
	if t.IsZero() {
		return Never
	}
	d := t.Sub(epoch)
	if d < 0 {
		return 0
	}
	return Deadline(d)
}

// AfterOrNever returns Never for a non-positive d, After(d) otherwise.
// Config timeouts of zero mean "no timeout".
func AfterOrNever(d time.Duration) Deadline {
	if d <= 0 {
		return Never
	}
	return After(d)
}

// IsNever reports whether the deadline is the Never sentinel.
func (d Deadline) IsNever() bool {
	return d < 0
}

// Expired reports whether the deadline has passed.
func (d Deadline) Expired() bool {
	return !d.IsNever() && Now() >= d
}

// Remaining returns the time left before the deadline, clamped at zero.
// For Never it returns math.MaxInt64.
func (d Deadline) Remaining() time.Duration {
	if d.IsNever() {
		return time.Duration(math.MaxInt64)
	}
	r := time.Duration(d - Now())
	if r < 0 {
		return 0
	}
	return r
}

// Time converts the deadline to wall clock time. Never maps to the zero
// time, which is what net.Conn.SetDeadline treats as "no deadline".
func (d Deadline) Time() time.Time {
	if d.IsNever() {
		return time.Time{}
	}
	return epoch.Add(time.Duration(d))
}

// Earliest returns the earlier of two deadlines, treating Never as +inf.
func Earliest(a, b Deadline) Deadline {
	switch {
	case a.IsNever():
		return b
	case b.IsNever():
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// timer returns a channel that fires at the deadline and a stop func.
// For Never the channel is nil, which blocks forever in a select.
func (d Deadline) timer() (<-chan time.Time, func()) {
	if d.IsNever() {
		return nil, func() {}
	}
	t := time.NewTimer(d.Remaining())
	return t.C, func() { t.Stop() }
}
