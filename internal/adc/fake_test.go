package adc

import (
	"errors"
	"testing"

	"github.com/sweeney/battery-led/internal/logic"
)

func TestFakeSourceRead(t *testing.T) {
	f := NewFakeSource([]logic.RawValue{300, 330, 380})

	for i, want := range []logic.RawValue{300, 330, 380, 380} {
		got, err := f.ReadRaw()
		if err != nil {
			t.Fatalf("sample %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, got)
		}
	}
	if f.Reads != 4 {
		t.Errorf("expected 4 reads, got %d", f.Reads)
	}
}

func TestFakeSourceNoSamples(t *testing.T) {
	f := NewFakeSource(nil)

	_, err := f.ReadRaw()
	if err == nil {
		t.Error("expected error with no samples")
	}
}

func TestFakeSourceError(t *testing.T) {
	f := NewFakeSource([]logic.RawValue{330})
	f.ReadError = errors.New("simulated error")

	_, err := f.ReadRaw()
	if err == nil {
		t.Error("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeSourceClose(t *testing.T) {
	f := NewFakeSource([]logic.RawValue{330})

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeSourceReset(t *testing.T) {
	f := NewFakeSource([]logic.RawValue{300, 330})

	f.ReadRaw()
	f.Reset()

	got, _ := f.ReadRaw()
	if got != 300 {
		t.Errorf("after reset: expected 300, got %d", got)
	}
}

func TestNewFakeVoltages(t *testing.T) {
	f := NewFakeVoltages(logic.DefaultCalibration, 3.5, 3.05)

	for _, want := range []logic.Voltage{3.5, 3.05} {
		raw, err := f.ReadRaw()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, err := logic.ToVoltage(raw, logic.DefaultCalibration)
		if err != nil {
			t.Fatalf("unexpected conversion error: %v", err)
		}
		if d := v - want; d > 0.015 || d < -0.015 {
			t.Errorf("expected ~%v, got %v", want, v)
		}
	}
}

func TestFakeSourceAppendAfterExhausted(t *testing.T) {
	f := NewFakeSource([]logic.RawValue{300})

	f.ReadRaw()
	f.ReadRaw()
	f.Samples = append(f.Samples, 400)

	got, _ := f.ReadRaw()
	if got != 400 {
		t.Errorf("expected appended sample 400, got %d", got)
	}
	got, _ = f.ReadRaw()
	if got != 400 {
		t.Errorf("expected appended sample to repeat, got %d", got)
	}
}
