package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/battery-led/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Colour        string     `json:"colour"`
	Phase         string     `json:"phase"`
	Voltage       float64    `json:"voltage"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of machine counts.
type CountsJSON struct {
	ToLow       int `json:"to_low"`
	ToMedium    int `json:"to_medium"`
	ToHigh      int `json:"to_high"`
	Invalid     int `json:"invalid"`
	Implausible int `json:"implausible"`
	Rejected    int `json:"rejected"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source      string `json:"source"`
	TickUs      int64  `json:"tick_us"`
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	ActiveLow   bool   `json:"active_low"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		State:         state,
		Colour:        logic.PatternFor(snap.State).Colour(),
		Phase:         string(snap.Phase),
		Voltage:       snap.Voltage.Millivolts(),
		Ready:         snap.Started,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			ToLow:       snap.Counts.ToLow,
			ToMedium:    snap.Counts.ToMedium,
			ToHigh:      snap.Counts.ToHigh,
			Invalid:     snap.Counts.Invalid,
			Implausible: snap.Counts.Implausible,
			Rejected:    snap.Counts.Rejected,
		},
		Config: ConfigJSON{
			Source:      snap.Config.Source,
			TickUs:      snap.Config.TickUs,
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			ActiveLow:   snap.Config.ActiveLow,
		},
	}
}

// FormatJSON returns the indented JSON status printed by --print-state.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
