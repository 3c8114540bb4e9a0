// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/battery-led/internal/logic"
)

// Topic is the MQTT topic for battery state events.
const Topic = "energy/battery/indicator/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "energy/battery/indicator/system"

// TopicLED is the retained MQTT topic mirroring the physical LED.
const TopicLED = "energy/battery/indicator/led"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a battery state event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishPattern sends the pattern currently shown on the LED.
	PublishPattern(p logic.Pattern) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Battery BatteryPayload `json:"battery"`
}

// BatteryPayload contains the battery event details.
type BatteryPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	State     string  `json:"state"`
	Previous  string  `json:"previous,omitempty"`
	Voltage   float64 `json:"voltage"`
	Colour    string  `json:"colour"`
}

// EventName returns the event label for a battery event: STARTUP for the
// first confirmed state, otherwise the new state prefixed with "TO_".
func EventName(event logic.Event) string {
	if event.Startup {
		return "STARTUP"
	}
	return "TO_" + string(event.State)
}

// FormatPayload creates the JSON payload for a battery event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Battery: BatteryPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     EventName(event),
			State:     string(event.State),
			Previous:  string(event.Previous),
			Voltage:   event.Voltage.Millivolts(),
			Colour:    event.Pattern.Colour(),
		},
	}
	return json.Marshal(payload)
}

// LEDPayload represents the MQTT payload mirroring the LED.
type LEDPayload struct {
	LED LEDInner `json:"led"`
}

// LEDInner contains the emitter levels.
type LEDInner struct {
	Red    bool   `json:"red"`
	Green  bool   `json:"green"`
	Colour string `json:"colour"`
}

// FormatPatternPayload creates the JSON payload for an LED pattern.
func FormatPatternPayload(p logic.Pattern) ([]byte, error) {
	return json.Marshal(LEDPayload{
		LED: LEDInner{Red: p.Red, Green: p.Green, Colour: p.Colour()},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Mirror is an indicator that publishes each pattern it is shown.
type Mirror struct {
	pub Publisher
}

// NewMirror creates a Mirror publishing through pub.
func NewMirror(pub Publisher) *Mirror {
	return &Mirror{pub: pub}
}

// Show publishes the pattern.
func (m *Mirror) Show(p logic.Pattern) error {
	return m.pub.PublishPattern(p)
}
