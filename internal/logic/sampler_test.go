package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToVoltage(t *testing.T) {
	v, err := ToVoltage(331, DefaultCalibration)
	require.NoError(t, err)
	assert.InDelta(t, 1.13*1024/331.0, float64(v), 1e-9)
	assert.InDelta(t, 3.4958, float64(v), 1e-3)
}

func TestToVoltageZeroIsInvalid(t *testing.T) {
	_, err := ToVoltage(0, DefaultCalibration)
	assert.ErrorIs(t, err, ErrInvalidSample)
}

func TestToVoltageFullScale(t *testing.T) {
	v, err := ToVoltage(1023, DefaultCalibration)
	require.NoError(t, err)
	assert.InDelta(t, 1.131, float64(v), 1e-3)
}

func TestToVoltageCustomCalibration(t *testing.T) {
	cal := Calibration{Reference: 1.1, FullScale: 1024}
	v, err := ToVoltage(352, cal)
	require.NoError(t, err)
	assert.InDelta(t, 3.2, float64(v), 1e-3)
}

func TestToRawRoundTrip(t *testing.T) {
	for _, want := range []Voltage{2.5, 2.9, 3.05, 3.15, 3.5, 4.0} {
		raw := ToRaw(want, DefaultCalibration)
		got, err := ToVoltage(raw, DefaultCalibration)
		require.NoError(t, err)
		// One count at ~330 is ~10mV.
		assert.InDelta(t, float64(want), float64(got), 0.015, "voltage %v", want)
	}
}

func TestToRawNonPositive(t *testing.T) {
	assert.Equal(t, RawValue(0), ToRaw(0, DefaultCalibration))
	assert.Equal(t, RawValue(0), ToRaw(-1, DefaultCalibration))
}

func TestVoltageMillivolts(t *testing.T) {
	tests := []struct {
		in   Voltage
		want float64
	}{
		{3.0, 3.0},
		{3.0004, 3.0},
		{3.0006, 3.001},
		{2.345678, 2.346},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Millivolts(), "Millivolts(%v)", tt.in)
	}
}
