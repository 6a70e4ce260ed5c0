// Package system supplies the wall clock injected into the scan pipeline.
package system

import "time"

// Clock implements scanner.Clock with the real wall clock. Scan timestamps
// and cache TTLs are always UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
