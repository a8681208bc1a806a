package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests. Advance moves time
// forward and fires any tickers or After waiters that come due.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	waiters []*fakeWaiter
}

// NewFake returns a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		ch:   make(chan time.Time, 1),
		next: f.now.Add(d),
		d:    d,
	}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{ch: make(chan time.Time, 1), at: f.now.Add(d)}
	if d <= 0 {
		w.ch <- f.now
		return w.ch
	}
	f.waiters = append(f.waiters, w)
	return w.ch
}

// Advance moves the clock forward by d, firing due tickers and waiters.
// Tickers fire once per elapsed period; a fire that would block is
// dropped, mirroring time.Ticker's coalescing behavior.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for _, t := range f.tickers {
		for !t.stopped && !t.next.After(target) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.d)
		}
	}

	remaining := f.waiters[:0]
	var due []*fakeWaiter
	for _, w := range f.waiters {
		if !w.at.After(target) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.now = target
	f.mu.Unlock()

	for _, w := range due {
		w.ch <- w.at
	}
}

type fakeTicker struct {
	ch      chan time.Time
	next    time.Time
	d       time.Duration
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }

type fakeWaiter struct {
	ch chan time.Time
	at time.Time
}
