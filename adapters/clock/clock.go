// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/Pylons/pyramid-zcml/ports"
)

// Real reads the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a manually driven clock for ticket expiry and reissue tests.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock stopped at t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Func returns c.Now as a plain function, the shape expected by token
// parsers.
func Func(c ports.Clock) func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
