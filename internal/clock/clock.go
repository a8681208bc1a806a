// Package clock abstracts wall-clock time so timer-driven components
// can be tested without real sleeps.
package clock

import (
	"time"
)

// Clock provides the time operations the session core depends on.
type Clock interface {
	Now() time.Time
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
	// After returns a channel that receives the current time after d.
	After(d time.Duration) <-chan time.Time
}

// Ticker is the subset of time.Ticker the core uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production clock backed by package time.
type Real struct{}

// New returns the production clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
