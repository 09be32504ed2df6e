// Package clock provides the single source of timestamps used across
// persistproc so tests can substitute a deterministic one.
package clock

import "time"

// Clock produces UTC ISO-8601 timestamps with millisecond precision.
type Clock struct {
	now func() time.Time
}

// New returns a Clock backed by the real wall clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewFake returns a Clock whose Now() always formats fixed.
// Used by tests that need deterministic timestamps.
func NewFake(fixed time.Time) *Clock {
	return &Clock{now: func() time.Time { return fixed }}
}

// NewFromFunc returns a Clock backed by an arbitrary time source, e.g. a
// counter that advances on every call, for tests asserting monotonicity.
func NewFromFunc(f func() time.Time) *Clock {
	return &Clock{now: f}
}

// layout produces YYYY-MM-DDTHH:MM:SS.sssZ.
const layout = "2006-01-02T15:04:05.000Z"

// Now returns the current instant as a UTC ISO-8601 string with
// millisecond precision.
func (c *Clock) Now() string {
	return c.now().UTC().Format(layout)
}

// LooksLikeTimestamp reports whether s parses as a Now()-formatted
// timestamp, used by log-line consumers to distinguish a leading
// timestamp from ordinary content that happens to contain a space.
func LooksLikeTimestamp(s string) bool {
	_, err := time.Parse(layout, s)
	return err == nil
}
