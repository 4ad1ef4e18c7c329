// Package clock provides an injectable time source so lease and sweep
// timing can be driven deterministically in tests.
//
// Production code takes a Clock instead of calling time.Now or
// time.NewTicker directly. Real returns the standard library behavior;
// Fake returns a clock that moves only when Advance is called.
package clock

import "time"

// Clock is the subset of the time package used by chatlock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C. C is buffered with capacity 1.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are delivered after Stop returns.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
