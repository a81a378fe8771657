package benchmark

import (
	"time"

	"github.com/jmhodges/clock"
)

// Timer accumulates the time spent in the measured part of an iteration. It
// is either running or suspended; Suspend while suspended and Resume while
// running do nothing.
type Timer struct {
	clk     clock.Clock
	base    time.Time
	acc     time.Duration
	running bool
}

// NewTimer returns a suspended timer reading clk.
func NewTimer(clk clock.Clock) *Timer {
	return &Timer{clk: clk}
}

// Reset zeroes the accumulated time and starts the timer.
func (t *Timer) Reset() {
	t.acc = 0
	t.base = t.clk.Now()
	t.running = true
}

// Suspend adds the time since the last Reset or Resume and stops
// accumulating.
func (t *Timer) Suspend() {
	if !t.running {
		return
	}
	t.acc += t.clk.Now().Sub(t.base)
	t.running = false
}

// Resume starts accumulating again without touching what was accumulated.
func (t *Timer) Resume() {
	if t.running {
		return
	}
	t.base = t.clk.Now()
	t.running = true
}

// Elapsed returns the accumulated time, including the running stretch.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.acc + t.clk.Now().Sub(t.base)
	}
	return t.acc
}
