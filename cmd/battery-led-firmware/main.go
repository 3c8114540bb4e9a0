//go:build tinygo && rp2040

// Command battery-led-firmware runs the battery indicator directly on a
// microcontroller. ADC0 is wired to a fixed 1.13 V reference while the
// converter's own reference is the battery supply, so the raw reading falls
// as the battery voltage rises.
package main

import (
	"context"
	"machine"
	"runtime/interrupt"
	"time"

	"github.com/sweeney/battery-led/internal/logic"
	"github.com/sweeney/battery-led/internal/tick"
)

var (
	adcPin   = machine.ADC0
	redPin   = machine.GP14
	greenPin = machine.GP15
)

// The bicolour LED sinks current through the pins.
const activeLow = true

type adcSource struct {
	adc machine.ADC
}

// ReadRaw returns the top 10 bits of the 16-bit normalised reading.
func (s *adcSource) ReadRaw() (logic.RawValue, error) {
	return logic.RawValue(s.adc.Get() >> 6), nil
}

type ledIndicator struct {
	red, green machine.Pin
}

func (l *ledIndicator) Show(p logic.Pattern) error {
	// Both emitters change together so no intermediate colour is visible.
	state := interrupt.Disable()
	l.red.Set(p.Red != activeLow)
	l.green.Set(p.Green != activeLow)
	interrupt.Restore(state)
	return nil
}

func main() {
	machine.InitADC()
	a := machine.ADC{Pin: adcPin}
	a.Configure(machine.ADCConfig{})

	led := &ledIndicator{red: redPin, green: greenPin}
	for _, pin := range []machine.Pin{redPin, greenPin} {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	led.Show(logic.Pattern{})

	timer := &logic.DebounceTimer{}
	ticker := tick.NewTicker(tick.DefaultInterval)
	ticker.Register(timer.Tick)
	ticker.Start()

	m := logic.NewMachine(&adcSource{adc: a}, led, timer, time.Now())
	m.Run(context.Background(), time.Now, nil, nil)
}
