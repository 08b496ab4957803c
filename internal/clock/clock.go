// Package clock provides the millisecond tick counter used by the control loop.
//
// Every timeout in the node (runtime protection, breaker cooldowns, resume
// delays, watchdog deadlines) is a comparison against a uint32 millisecond
// counter. The counter wraps roughly every 49.7 days, so callers must never
// compare two readings with < or >. Use Elapsed, which relies on unsigned
// modular arithmetic and stays correct across a single wrap.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current tick counter in milliseconds.
type Clock interface {
	Millis() uint32
}

// Elapsed returns the milliseconds from since to now, correct across a wrap.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// Expired reports whether at least timeout ms have passed since start.
func Expired(now, start, timeout uint32) bool {
	return Elapsed(now, start) >= timeout
}

// ElapsedNoWrap returns the elapsed time and whether the reading is
// trustworthy. A now that is behind since is treated as a wrapped clock:
// ok is false and callers should treat the interval as "long ago".
func ElapsedNoWrap(now, since uint32) (elapsed uint32, ok bool) {
	if now < since {
		return 0, false
	}
	return now - since, true
}

// Monotonic is a Clock counting milliseconds since it was created. It reads
// Go's monotonic clock, so NTP corrections and manual changes of the system
// time do not move it. Every interval within a run is measured on it.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a Monotonic clock reading 0 now.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Millis implements Clock.
func (m *Monotonic) Millis() uint32 {
	return uint32(time.Since(m.start).Milliseconds()) //nolint:gosec // wrap is intended
}

// Wall is a Clock backed by wall time truncated to 32 bits.
//
// Readings stay comparable across a reboot, which boot-loop detection needs
// for the persisted last boot time. Wall time can step, so it must not be
// used to time anything within a run.
type Wall struct{}

// Millis implements Clock.
func (Wall) Millis() uint32 {
	return uint32(time.Now().UnixMilli()) //nolint:gosec // wrap is intended
}

// Manual is a Clock advanced explicitly. Used by tests and simulations.
type Manual struct {
	now atomic.Uint32
}

// NewManual returns a Manual clock starting at start.
func NewManual(start uint32) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// Millis implements Clock.
func (m *Manual) Millis() uint32 {
	return m.now.Load()
}

// Advance moves the clock forward by d milliseconds and returns the new value.
func (m *Manual) Advance(d uint32) uint32 {
	return m.now.Add(d)
}

// Set jumps the clock to an absolute value.
func (m *Manual) Set(v uint32) {
	m.now.Store(v)
}
