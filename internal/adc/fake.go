package adc

import (
	"errors"
	"sync"

	"github.com/sweeney/battery-led/internal/logic"
)

// FakeSource is a test double that returns scripted raw values.
type FakeSource struct {
	mu sync.Mutex

	// Samples contains scripted raw values to return.
	// Each call to ReadRaw() consumes the next sample.
	Samples []logic.RawValue

	// index tracks current position in Samples
	index int

	// Reads counts calls to ReadRaw
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadRaw()
	ReadError error
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples []logic.RawValue) *FakeSource {
	return &FakeSource{Samples: samples}
}

// NewFakeVoltages creates a FakeSource returning the raw values that convert
// back to the given voltages under cal.
func NewFakeVoltages(cal logic.Calibration, volts ...logic.Voltage) *FakeSource {
	samples := make([]logic.RawValue, len(volts))
	for i, v := range volts {
		samples[i] = logic.ToRaw(v, cal)
	}
	return NewFakeSource(samples)
}

// ReadRaw returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly until more
// are appended.
func (f *FakeSource) ReadRaw() (logic.RawValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}

	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	i := f.index
	if i >= len(f.Samples) {
		i = len(f.Samples) - 1
	} else {
		f.index++
	}

	return f.Samples[i], nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset resets the source to the beginning of samples.
func (f *FakeSource) Reset() {
	f.mu.Lock()
	f.index = 0
	f.Reads = 0
	f.Closed = false
	f.mu.Unlock()
}
