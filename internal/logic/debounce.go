package logic

import "sync/atomic"

// DebounceTimer is a countdown decremented by an external periodic tick.
// Tick may run concurrently with the other methods (interrupt or goroutine);
// the counter is only ever accessed atomically.
type DebounceTimer struct {
	remaining atomic.Uint32
}

// Arm sets the countdown to ticks.
func (d *DebounceTimer) Arm(ticks uint32) {
	d.remaining.Store(ticks)
}

// Tick decrements the countdown by one, saturating at zero.
func (d *DebounceTimer) Tick() {
	for {
		n := d.remaining.Load()
		if n == 0 {
			return
		}
		if d.remaining.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Expired reports whether the countdown has reached zero.
func (d *DebounceTimer) Expired() bool {
	return d.remaining.Load() == 0
}

// Remaining returns the ticks left.
func (d *DebounceTimer) Remaining() uint32 {
	return d.remaining.Load()
}
