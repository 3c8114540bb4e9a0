package logic

// Pattern is the logical on/off state of the two emitters.
type Pattern struct {
	Red   bool
	Green bool
}

// PatternFor maps a battery state to its indicator pattern. Both emitters
// together read as yellow. An unestablished state turns both off.
func PatternFor(s BatteryState) Pattern {
	switch s {
	case StateHigh:
		return Pattern{Green: true}
	case StateMedium:
		return Pattern{Red: true, Green: true}
	case StateLow:
		return Pattern{Red: true}
	default:
		return Pattern{}
	}
}

// Colour names the colour the pattern produces.
func (p Pattern) Colour() string {
	switch {
	case p.Red && p.Green:
		return "yellow"
	case p.Green:
		return "green"
	case p.Red:
		return "red"
	default:
		return "off"
	}
}
