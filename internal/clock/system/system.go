// Package system provides the wall clock used for resource timestamps.
package system

import "time"

// Clock implements warmup.Clock. Timestamps are UTC with monotonic readings
// stripped so they round-trip through the stores unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Round(0)
}
