package logic

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Machine samples, classifies and debounces the battery voltage and drives the
// indicator. Every call to Step performs one bounded, non-blocking phase step.
// Machine is not safe for concurrent use except through its DebounceTimer.
type Machine struct {
	source    RawSource
	indicator Indicator
	timer     *DebounceTimer
	cal       Calibration

	phase     Phase
	confirmed BatteryState
	// Classified state waiting to be confirmed by a second measurement
	pending BatteryState
	// Whether pending has waited out a full debounce
	debounced bool
	// State APPLY will confirm
	next    BatteryState
	voltage Voltage

	startTime     time.Time
	counts        Counts
	lastHeartbeat time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithCalibration overrides DefaultCalibration.
func WithCalibration(cal Calibration) Option {
	return func(m *Machine) {
		m.cal = cal
	}
}

// NewMachine creates a machine in the STARTUP phase.
// The startTime is used for calculating uptime in heartbeat events.
func NewMachine(source RawSource, indicator Indicator, timer *DebounceTimer, startTime time.Time, opts ...Option) *Machine {
	m := &Machine{
		source:        source,
		indicator:     indicator,
		timer:         timer,
		cal:           DefaultCalibration,
		phase:         PhaseStartup,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Step advances the machine by one phase step. It returns an event when the
// confirmed state is established or changes.
//
// ErrInvalidSample and collaborator errors leave the phase and state
// unchanged, so the same step is retried on the next call.
func (m *Machine) Step(now time.Time) (*Event, error) {
	switch m.phase {
	case PhaseStartup:
		return m.startup(now)
	case PhaseMeasure:
		return nil, m.measure()
	case PhaseDebouncing:
		if m.timer.Expired() {
			m.debounced = true
			m.phase = PhaseMeasure
		}
		return nil, nil
	case PhaseApply:
		return m.apply(now)
	}
	return nil, fmt.Errorf("unknown phase %q", m.phase)
}

// Run calls Step in a tight loop until ctx is done. Events and errors are
// passed to the callbacks, either of which may be nil.
func (m *Machine) Run(ctx context.Context, now func() time.Time, onEvent func(Event), onErr func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := m.Step(now())
		if err != nil && onErr != nil {
			onErr(err)
		}
		if ev != nil && onEvent != nil {
			onEvent(*ev)
		}
		// Let the tick goroutine run on cooperative schedulers.
		runtime.Gosched()
	}
}

func (m *Machine) sample() (Voltage, error) {
	raw, err := m.source.ReadRaw()
	if err != nil {
		return 0, fmt.Errorf("read sample: %w", err)
	}
	v, err := ToVoltage(raw, m.cal)
	if err != nil {
		m.counts.Invalid++
		return 0, err
	}
	m.voltage = v
	return v, nil
}

func (m *Machine) startup(now time.Time) (*Event, error) {
	v, err := m.sample()
	if err != nil {
		return nil, err
	}
	if !Plausible(v) {
		m.counts.Implausible++
		return nil, nil
	}

	state := Classify(v, PowerOnState)
	p := PatternFor(state)
	if err := m.indicator.Show(p); err != nil {
		return nil, fmt.Errorf("show indicator: %w", err)
	}

	m.confirmed = state
	m.timer.Arm(ShortDebounceTicks)
	m.phase = PhaseMeasure

	return &Event{
		Timestamp: now,
		Startup:   true,
		State:     state,
		Voltage:   v,
		Pattern:   p,
	}, nil
}

func (m *Machine) measure() error {
	v, err := m.sample()
	if err != nil {
		return err
	}

	next := Classify(v, m.confirmed)
	switch {
	case next == m.confirmed:
		if m.pending != "" {
			m.counts.Rejected++
		}
		m.next = next
		m.phase = PhaseApply
	case m.debounced && next == m.pending:
		m.next = next
		m.phase = PhaseApply
	default:
		if m.pending != "" {
			m.counts.Rejected++
		}
		m.pending = next
		m.debounced = false
		m.timer.Arm(LongDebounceTicks)
		m.phase = PhaseDebouncing
	}
	return nil
}

func (m *Machine) apply(now time.Time) (*Event, error) {
	prev := m.confirmed
	if m.next != prev {
		p := PatternFor(m.next)
		if err := m.indicator.Show(p); err != nil {
			return nil, fmt.Errorf("show indicator: %w", err)
		}
		m.confirmed = m.next
		m.countTransition(m.next)
	}

	m.pending = ""
	m.debounced = false
	m.phase = PhaseMeasure

	if m.confirmed == prev {
		return nil, nil
	}
	return &Event{
		Timestamp: now,
		Previous:  prev,
		State:     m.confirmed,
		Voltage:   m.voltage,
		Pattern:   PatternFor(m.confirmed),
	}, nil
}

func (m *Machine) countTransition(to BatteryState) {
	switch to {
	case StateLow:
		m.counts.ToLow++
	case StateMedium:
		m.counts.ToMedium++
	case StateHigh:
		m.counts.ToHigh++
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Started returns whether STARTUP has completed.
func (m *Machine) Started() bool {
	return m.phase != PhaseStartup
}

// Confirmed returns the confirmed battery state, empty before startup.
func (m *Machine) Confirmed() BatteryState {
	return m.confirmed
}

// Pending returns the state awaiting confirmation, empty when none.
func (m *Machine) Pending() BatteryState {
	return m.pending
}

// Voltage returns the last valid voltage sampled.
func (m *Machine) Voltage() Voltage {
	return m.voltage
}

// CountsSnapshot returns a copy of the activity counters.
func (m *Machine) CountsSnapshot() Counts {
	return m.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if STARTUP has not completed, if
// the interval has not elapsed, or if interval is <= 0 (disabled).
func (m *Machine) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !m.Started() {
		return nil
	}

	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}

	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(m.startTime),
		State:     m.confirmed,
		Voltage:   m.voltage,
		Counts:    m.counts,
	}
}
