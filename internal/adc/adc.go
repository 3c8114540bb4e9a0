// Package adc provides raw battery readings with hardware abstraction.
// The real implementations read an I2C converter (periph.io) or a
// microcontroller streaming readings over a serial port.
// The fake implementation allows testing without hardware.
package adc

import (
	"errors"

	"github.com/sweeney/battery-led/internal/logic"
)

// Source reads raw converter values.
type Source interface {
	// ReadRaw returns the most recent raw reading.
	ReadRaw() (logic.RawValue, error)

	// Close releases the underlying bus or port.
	Close() error
}

// ErrNoSample is returned before a source has produced its first reading.
var ErrNoSample = errors.New("adc: no sample yet")

// MaxRaw is the largest reading of the 10-bit converter.
const MaxRaw logic.RawValue = 0x3ff
