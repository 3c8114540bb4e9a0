// Package tick delivers the periodic tick that counts down the debounce
// timer. On the host it is a goroutine driven by time.Ticker; tests fire
// ticks by hand.
package tick

import (
	"sync"
	"time"
)

// DefaultInterval is one timer overflow of an 8-bit counter clocked at
// 1 MHz / 8.
const DefaultInterval = 2048 * time.Microsecond

// Source calls registered handlers once per tick.
type Source interface {
	Register(fn func())
}

type handlers struct {
	mu  sync.Mutex
	fns []func()
}

func (h *handlers) Register(fn func()) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *handlers) fire() {
	h.mu.Lock()
	fns := h.fns
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Ticker fires handlers from a background goroutine at a fixed interval.
type Ticker struct {
	handlers
	interval time.Duration

	mu    sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	fired uint64
}

// NewTicker creates a stopped Ticker. A non-positive interval selects
// DefaultInterval.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{interval: interval}
}

// Interval returns the tick period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Start begins ticking. Calling Start on a running Ticker is a no-op.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

func (t *Ticker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			t.mu.Lock()
			t.fired++
			t.mu.Unlock()
			t.fire()
		}
	}
}

// Stop halts ticking and waits for the goroutine to exit. No handler runs
// after Stop returns.
func (t *Ticker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// delivered returns the number of ticks delivered so far, counting one in
// progress.
func (t *Ticker) delivered() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Manual fires handlers only when told to.
type Manual struct {
	handlers
}

// NewManual creates a Manual tick source.
func NewManual() *Manual {
	return &Manual{}
}

// Fire delivers n ticks synchronously.
func (m *Manual) Fire(n int) {
	for i := 0; i < n; i++ {
		m.fire()
	}
}
