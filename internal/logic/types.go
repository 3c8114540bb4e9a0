// Package logic contains the battery classification and debounce state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep)
// so it builds unchanged for the host daemon and the tinygo firmware.
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"time"
)

// BatteryState is the debounced, hysteresis-filtered charge band.
type BatteryState string

const (
	StateLow    BatteryState = "LOW"
	StateMedium BatteryState = "MEDIUM"
	StateHigh   BatteryState = "HIGH"
)

// PowerOnState is the state the classifier assumes before a voltage has been
// confirmed.
const PowerOnState = StateHigh

// Valid reports whether s is one of the three charge bands.
func (s BatteryState) Valid() bool {
	return s == StateLow || s == StateMedium || s == StateHigh
}

// Voltage is a measured battery voltage in volts.
type Voltage float64

// RawValue is an unconverted ADC reading.
type RawValue uint16

// Hysteresis thresholds in volts.
//
//	        falling          rising
//	green ----|///|        |///|--- green
//	           |///|--3.3--|###|<-- YellowHigh
//	YellowLow->|###|--3.1--|###|
//	           |###|--3.0--|\\\|<-- RedHigh
//	RedLow---->|\\\|--2.8--|\\\|
const (
	RedLow     Voltage = 2.8
	RedHigh    Voltage = 3.0
	YellowLow  Voltage = 3.1
	YellowHigh Voltage = 3.3
	GreenLow   Voltage = 3.4
)

// Plausible voltage window during STARTUP. The first converter readings after
// power-up are far outside it.
const (
	MinPlausible Voltage = 2.3
	MaxPlausible Voltage = 4.2
)

// Debounce lengths in timer ticks.
const (
	ShortDebounceTicks uint32 = 0x10
	LongDebounceTicks  uint32 = 0x2f0
)

// ErrInvalidSample is returned when a raw reading cannot be converted to a
// voltage. The cycle that produced it is skipped.
var ErrInvalidSample = errors.New("invalid sample")

// Phase is the state machine phase.
type Phase string

const (
	PhaseStartup    Phase = "STARTUP"
	PhaseMeasure    Phase = "MEASURE"
	PhaseDebouncing Phase = "DEBOUNCING"
	PhaseApply      Phase = "APPLY"
)

// RawSource produces the most recent raw ADC reading.
type RawSource interface {
	ReadRaw() (RawValue, error)
}

// Indicator physically shows a pattern. Implementations must be idempotent.
type Indicator interface {
	Show(p Pattern) error
}

// Event is emitted when the confirmed state changes (or is first established).
type Event struct {
	Timestamp time.Time
	Startup   bool
	Previous  BatteryState // empty for the startup event
	State     BatteryState
	Voltage   Voltage
	Pattern   Pattern
}

// Counts tracks machine activity since startup.
type Counts struct {
	ToLow       int
	ToMedium    int
	ToHigh      int
	Invalid     int // samples skipped by ErrInvalidSample
	Implausible int // startup voltages outside the plausible window
	Rejected    int // pending changes not confirmed after debounce
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	State     BatteryState
	Voltage   Voltage
	Counts    Counts
}
