// Package wait provides cancellable pauses and condition polling over an
// injectable clock, so settle windows can be tested without real sleeps.
package wait

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used by Sleep and Until.
type Clock = clockwork.Clock

// FakeClock only moves when Advance is called.
type FakeClock = clockwork.FakeClock

// NewRealClock returns a Clock backed by the time package.
func NewRealClock() Clock { return clockwork.NewRealClock() }

// NewFakeClock returns a FakeClock frozen at start.
func NewFakeClock(start time.Time) *FakeClock { return clockwork.NewFakeClockAt(start) }
