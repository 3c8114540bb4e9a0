// Package status provides a thread-safe status tracker for the battery-led daemon.
// It is read by MQTT lifecycle events and --print-state.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/battery-led/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Source      string // "i2c:/dev/i2c-1@0x25" style description
	TickUs      int64
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	ActiveLow   bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         logic.BatteryState
	Phase         logic.Phase
	Voltage       logic.Voltage
	Started       bool
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Phase:     logic.PhaseStartup,
			Config:    cfg,
		},
	}
}

// Update copies the machine's observable state.
// Called from runLoop after every step.
func (t *Tracker) Update(m *logic.Machine) {
	t.mu.Lock()
	t.snap.State = m.Confirmed()
	t.snap.Phase = m.Phase()
	t.snap.Voltage = m.Voltage()
	t.snap.Started = m.Started()
	t.snap.Counts = m.CountsSnapshot()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
