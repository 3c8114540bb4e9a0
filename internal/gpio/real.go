//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/battery-led/internal/logic"
)

// RealIndicator drives the LED from actual hardware using Linux GPIO character device.
type RealIndicator struct {
	chip     *gpiocdev.Chip
	redPin   *gpiocdev.Line
	greenPin *gpiocdev.Line
}

// NewRealIndicator requests the red and green lines as outputs, initially
// dark. With activeLow set, a lit emitter drives its line low, as on boards
// that sink current through a common-anode LED.
func NewRealIndicator(chipName string, pinRed, pinGreen int, activeLow bool) (*RealIndicator, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	redLine, err := chip.RequestLine(pinRed, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request red pin %d: %w", pinRed, err)
	}

	greenLine, err := chip.RequestLine(pinGreen, opts...)
	if err != nil {
		redLine.Close()
		chip.Close()
		return nil, fmt.Errorf("request green pin %d: %w", pinGreen, err)
	}

	return &RealIndicator{
		chip:     chip,
		redPin:   redLine,
		greenPin: greenLine,
	}, nil
}

// Show sets the logical level of both lines.
func (r *RealIndicator) Show(p logic.Pattern) error {
	if err := r.redPin.SetValue(level(p.Red)); err != nil {
		return fmt.Errorf("set red pin: %w", err)
	}
	if err := r.greenPin.SetValue(level(p.Green)); err != nil {
		return fmt.Errorf("set green pin: %w", err)
	}
	return nil
}

// Close turns the LED off and releases GPIO resources.
// Lines are returned to inputs with pull-down (matching Pi boot defaults).
func (r *RealIndicator) Close() error {
	var errs []error

	for name, line := range map[string]*gpiocdev.Line{"red": r.redPin, "green": r.greenPin} {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear %s pin: %w", name, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
