package logic

// Classify maps a voltage to a battery state using the state it is moving
// from. Falling and rising voltages use different thresholds so that noise
// around a single cut point cannot make the indicator flicker.
//
// An unestablished current state is treated as PowerOnState.
func Classify(v Voltage, current BatteryState) BatteryState {
	if !current.Valid() {
		current = PowerOnState
	}

	switch current {
	case StateHigh:
		switch {
		case v <= RedLow:
			return StateLow
		case v > RedLow && v < YellowLow:
			return StateMedium
		default:
			return StateHigh
		}
	case StateMedium:
		switch {
		case v <= RedLow:
			return StateLow
		case v >= YellowHigh:
			return StateHigh
		default:
			return StateMedium
		}
	default: // StateLow
		switch {
		case v >= RedHigh && v < YellowHigh:
			return StateMedium
		case v >= YellowHigh:
			return StateHigh
		default:
			return StateLow
		}
	}
}

// Plausible reports whether v lies in the window of voltages a real cell can
// produce.
func Plausible(v Voltage) bool {
	return v >= MinPlausible && v <= MaxPlausible
}
