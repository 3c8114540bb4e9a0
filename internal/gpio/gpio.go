// Package gpio drives the bicolour battery LED with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/battery-led/internal/logic"

// Indicator shows a pattern on the red and green emitters.
type Indicator interface {
	// Show sets both emitters. The pattern is logical: true = lit,
	// regardless of line polarity.
	Show(p logic.Pattern) error

	// Close releases GPIO resources.
	Close() error
}

// Line definitions (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultPinRed   = 17
	DefaultPinGreen = 27
)

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}
