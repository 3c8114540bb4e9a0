package gpio

import (
	"sync"

	"github.com/sweeney/battery-led/internal/logic"
)

// FakeIndicator is a test double that records shown patterns.
type FakeIndicator struct {
	mu sync.Mutex

	// Shown contains every pattern passed to Show, in order.
	Shown []logic.Pattern

	// Closed tracks if Close was called
	Closed bool

	// ShowError, if set, will be returned by Show()
	ShowError error
}

// NewFakeIndicator creates a FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Show records the pattern.
func (f *FakeIndicator) Show(p logic.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ShowError != nil {
		return f.ShowError
	}
	f.Shown = append(f.Shown, p)
	return nil
}

// Current returns the last pattern shown, or the dark pattern.
func (f *FakeIndicator) Current() logic.Pattern {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Shown) == 0 {
		return logic.Pattern{}
	}
	return f.Shown[len(f.Shown)-1]
}

// Colours returns the colour of each shown pattern.
func (f *FakeIndicator) Colours() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.Shown))
	for i, p := range f.Shown {
		out[i] = p.Colour()
	}
	return out
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded patterns.
func (f *FakeIndicator) Reset() {
	f.mu.Lock()
	f.Shown = nil
	f.Closed = false
	f.ShowError = nil
	f.mu.Unlock()
}
