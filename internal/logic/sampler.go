package logic

import "math"

// Calibration converts raw readings into volts.
//
// The reference device measures its internal bandgap against the supply, so
// the reading shrinks as the battery voltage rises:
//
//	voltage = Reference * FullScale / raw
type Calibration struct {
	Reference float64 // bandgap voltage
	FullScale float64 // converter counts at full scale
}

// DefaultCalibration matches a 10-bit converter with a 1.13 V bandgap.
var DefaultCalibration = Calibration{Reference: 1.13, FullScale: 1024}

// ToVoltage converts a raw reading. A zero reading has no defined voltage and
// returns ErrInvalidSample.
func ToVoltage(raw RawValue, cal Calibration) (Voltage, error) {
	if raw == 0 {
		return 0, ErrInvalidSample
	}
	v := cal.Reference * cal.FullScale / float64(raw)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidSample
	}
	return Voltage(v), nil
}

// ToRaw is the inverse of ToVoltage, rounded to the nearest count. Used by
// fakes and calibration checks.
func ToRaw(v Voltage, cal Calibration) RawValue {
	if v <= 0 {
		return 0
	}
	r := math.Round(cal.Reference * cal.FullScale / float64(v))
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	return RawValue(r)
}

// Millivolts rounds v to the nearest millivolt, the converter's resolution.
func (v Voltage) Millivolts() float64 {
	return math.Round(float64(v)*1000) / 1000
}
