// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct {
	started time.Time
}

// New creates a new Clock. Uptime is measured from this call.
func New() *Clock {
	return &Clock{started: time.Now()}
}

// Now returns the current time.
func (*Clock) Now() time.Time {
	return time.Now().UTC()
}

// Uptime returns the wall time elapsed since New.
func (c *Clock) Uptime() time.Duration {
	return time.Since(c.started)
}
