package transport

import "time"

// Default reconnect pacing.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// Backoff computes reconnect delays: every consecutive failure doubles
// the delay up to the cap, and a successful connection resets the
// sequence. The zero value uses the defaults.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	attempts int
}

// Next returns the delay before the upcoming attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	cap := b.Cap
	if cap <= 0 {
		cap = DefaultBackoffCap
	}

	d := base
	for i := 0; i < b.attempts; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	b.attempts++
	return d
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns how many delays have been handed out since the
// last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
