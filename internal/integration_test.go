package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/battery-led/internal/adc"
	"github.com/sweeney/battery-led/internal/gpio"
	"github.com/sweeney/battery-led/internal/logic"
	"github.com/sweeney/battery-led/internal/mqtt"
	"github.com/sweeney/battery-led/internal/status"
	"github.com/sweeney/battery-led/internal/tick"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// rig wires the machine to fakes the way the daemon wires it to hardware.
type rig struct {
	source  logic.RawSource
	led     *gpio.FakeIndicator
	pub     *mqtt.FakePublisher
	ticks   *tick.Manual
	timer   *logic.DebounceTimer
	machine *logic.Machine
	tracker *status.Tracker
	now     time.Time
}

type bothIndicators struct {
	led    logic.Indicator
	mirror logic.Indicator
}

func (b bothIndicators) Show(p logic.Pattern) error {
	if err := b.led.Show(p); err != nil {
		return err
	}
	return b.mirror.Show(p)
}

func newRig(source logic.RawSource) *rig {
	r := &rig{
		source:  source,
		led:     gpio.NewFakeIndicator(),
		pub:     mqtt.NewFakePublisher(),
		ticks:   tick.NewManual(),
		timer:   &logic.DebounceTimer{},
		tracker: status.NewTracker(startTime, status.Config{Source: "fake"}),
		now:     startTime,
	}
	r.ticks.Register(r.timer.Tick)
	r.machine = logic.NewMachine(source, bothIndicators{led: r.led, mirror: mqtt.NewMirror(r.pub)}, r.timer, startTime)
	return r
}

// step runs one machine step, publishing any event, and advances the clock
// by one tick period.
func (r *rig) step(t *testing.T) {
	t.Helper()
	ev, err := r.machine.Step(r.now)
	if err != nil && !errors.Is(err, logic.ErrInvalidSample) {
		t.Fatalf("step: %v", err)
	}
	if ev != nil {
		require.NoError(t, r.pub.Publish(*ev))
	}
	r.tracker.Update(r.machine)
	r.now = r.now.Add(tick.DefaultInterval)
}

// settle steps until the machine is measuring or debouncing.
func (r *rig) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		r.step(t)
		if p := r.machine.Phase(); p == logic.PhaseMeasure || p == logic.PhaseDebouncing {
			return
		}
	}
	t.Fatalf("machine did not settle, phase %s", r.machine.Phase())
}

// hold steps through a full long debounce, as the hardware would while the
// timer interrupt fires.
func (r *rig) hold(t *testing.T) {
	t.Helper()
	for i := 0; i < int(logic.LongDebounceTicks)+4; i++ {
		r.ticks.Fire(1)
		r.step(t)
	}
}

// TestIntegrationDischargeCurve follows a battery from full to empty.
func TestIntegrationDischargeCurve(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 0.2, 3.6)
	r := newRig(src)

	// Implausible first reading, then startup at 3.6 V
	r.step(t)
	r.settle(t)
	assert.Equal(t, logic.StateHigh, r.machine.Confirmed())

	for _, v := range []logic.Voltage{3.5, 3.3, 3.15, 3.05, 2.95, 2.85, 2.75, 2.6} {
		src.Samples = append(src.Samples, logic.ToRaw(v, logic.DefaultCalibration))
		r.settle(t)
		r.hold(t)
	}

	assert.Equal(t, []string{"green", "yellow", "red"}, r.led.Colours())
	require.Len(t, r.pub.Events, 3)
	assert.True(t, r.pub.Events[0].Startup)
	assert.Equal(t, logic.StateMedium, r.pub.Events[1].State)
	assert.Equal(t, logic.StateLow, r.pub.Events[2].State)
	assert.Len(t, r.pub.Patterns, 3, "LED mirrored on every change")

	counts := r.machine.CountsSnapshot()
	assert.Equal(t, 1, counts.Implausible)
	assert.Equal(t, 1, counts.ToMedium)
	assert.Equal(t, 1, counts.ToLow)

	snap := r.tracker.Snapshot()
	assert.Equal(t, logic.StateLow, snap.State)
	assert.True(t, snap.Started)
}

// TestIntegrationChargeJumpsBands verifies that a charger connected to an
// empty cell goes straight to green once the rise is confirmed.
func TestIntegrationChargeJumpsBands(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 2.5, 3.8)
	r := newRig(src)

	r.settle(t)
	assert.Equal(t, logic.StateLow, r.machine.Confirmed())
	r.settle(t)
	assert.Equal(t, logic.PhaseDebouncing, r.machine.Phase())
	r.hold(t)

	assert.Equal(t, []string{"red", "green"}, r.led.Colours())
	require.Len(t, r.pub.Events, 2)
	assert.Equal(t, logic.StateLow, r.pub.Events[1].Previous)
	assert.Equal(t, logic.StateHigh, r.pub.Events[1].State)
}

// TestIntegrationHysteresisHoldsBand checks that noise across a single
// threshold does not change the LED.
func TestIntegrationHysteresisHoldsBand(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 3.05)
	r := newRig(src)
	r.settle(t)

	for _, v := range []logic.Voltage{3.12, 3.2, 3.28, 2.9, 2.82, 3.25} {
		src.Samples = append(src.Samples, logic.ToRaw(v, logic.DefaultCalibration))
		r.settle(t)
		r.hold(t)
	}

	assert.Equal(t, []string{"yellow"}, r.led.Colours())
	assert.Len(t, r.pub.Events, 1)
}

// TestIntegrationBounceRejection verifies a dip shorter than the debounce is ignored.
func TestIntegrationBounceRejection(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 3.6, 3.0)
	r := newRig(src)
	r.settle(t) // startup
	r.settle(t) // dip seen, debouncing

	// Recovers before the debounce runs out
	src.Samples = append(src.Samples, logic.ToRaw(3.6, logic.DefaultCalibration))
	r.hold(t)

	assert.Equal(t, []string{"green"}, r.led.Colours())
	assert.Len(t, r.pub.Events, 1)
	assert.Equal(t, 1, r.machine.CountsSnapshot().Rejected)
}

// TestIntegrationPayloadFormat checks the wire format of a transition.
func TestIntegrationPayloadFormat(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 3.5, 3.05)
	r := newRig(src)
	r.settle(t)
	r.settle(t)
	r.hold(t)

	require.Len(t, r.pub.Payloads, 2)
	var parsed mqtt.Payload
	require.NoError(t, json.Unmarshal(r.pub.Payloads[1], &parsed))
	assert.Equal(t, "TO_MEDIUM", parsed.Battery.Event)
	assert.Equal(t, "MEDIUM", parsed.Battery.State)
	assert.Equal(t, "HIGH", parsed.Battery.Previous)
	assert.Equal(t, "yellow", parsed.Battery.Colour)
	assert.InDelta(t, 3.05, parsed.Battery.Voltage, 0.01)
	assert.NotEmpty(t, parsed.Battery.Timestamp)
}

// TestIntegrationStreamSource runs the machine from a serial-style stream.
func TestIntegrationStreamSource(t *testing.T) {
	pr, pw := io.Pipe()
	logger, _ := test.NewNullLogger()
	src := adc.NewStreamSource(pr, logger)
	defer src.Close()

	r := newRig(src)

	// No sample yet: the step fails and the machine stays in STARTUP
	_, err := r.machine.Step(r.now)
	assert.ErrorIs(t, err, adc.ErrNoSample)
	assert.False(t, r.machine.Started())

	fmt.Fprintf(pw, "%d\n", logic.ToRaw(3.05, logic.DefaultCalibration))
	require.Eventually(t, func() bool {
		_, err := src.ReadRaw()
		return err == nil
	}, time.Second, time.Millisecond)

	r.settle(t)
	assert.Equal(t, logic.StateMedium, r.machine.Confirmed())
	assert.Equal(t, []string{"yellow"}, r.led.Colours())

	fmt.Fprintf(pw, "garbage\n%d\n", logic.ToRaw(2.6, logic.DefaultCalibration))
	require.Eventually(t, func() bool {
		raw, err := src.ReadRaw()
		return err == nil && raw == logic.ToRaw(2.6, logic.DefaultCalibration)
	}, time.Second, time.Millisecond)

	r.settle(t)
	r.hold(t)
	assert.Equal(t, []string{"yellow", "red"}, r.led.Colours())

	pw.Close()
	<-src.Done()
	_, err = src.ReadRaw()
	assert.ErrorIs(t, err, io.EOF)
}

// TestIntegrationRunWithTicker runs the tight loop against a real ticker.
func TestIntegrationRunWithTicker(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 3.6, 2.7)
	led := gpio.NewFakeIndicator()
	timer := &logic.DebounceTimer{}
	ticker := tick.NewTicker(10 * time.Microsecond)
	ticker.Register(timer.Tick)
	var ticks atomic.Uint64
	ticker.Register(func() { ticks.Add(1) })
	ticker.Start()
	defer ticker.Stop()

	m := logic.NewMachine(src, led, timer, time.Now())

	var mu sync.Mutex
	var events []logic.Event
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, time.Now, func(ev logic.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}, nil)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, ticks.Load(), uint64(logic.LongDebounceTicks))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, events[0].Startup)
	assert.Equal(t, logic.StateHigh, events[0].State)
	assert.Equal(t, logic.StateLow, events[1].State)
	assert.Equal(t, []string{"green", "red"}, led.Colours())
}

// TestIntegrationLifecyclePayloads checks STARTUP, HEARTBEAT and SHUTDOWN
// status snapshots built from a live tracker.
func TestIntegrationLifecyclePayloads(t *testing.T) {
	src := adc.NewFakeVoltages(logic.DefaultCalibration, 3.05)
	r := newRig(src)

	startup := status.FormatStatusEvent(r.tracker.Snapshot(), "STARTUP", "")
	require.NoError(t, r.pub.PublishSystem(mqtt.SystemEvent{Event: "STARTUP", RawPayload: startup, Retained: true}))

	r.settle(t)
	hb := r.machine.CheckHeartbeat(startTime.Add(16*time.Minute), 15*time.Minute)
	require.NotNil(t, hb)
	assert.Equal(t, logic.StateMedium, hb.State)
	require.NoError(t, r.pub.PublishSystem(mqtt.SystemEvent{
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(r.tracker.Snapshot(), "HEARTBEAT", ""),
	}))

	require.NoError(t, r.pub.PublishSystem(mqtt.SystemEvent{
		Event:      "SHUTDOWN",
		Reason:     "SIGTERM",
		RawPayload: status.FormatStatusEvent(r.tracker.Snapshot(), "SHUTDOWN", "SIGTERM"),
		Retained:   true,
	}))

	assert.Equal(t, []string{"STARTUP", "HEARTBEAT", "SHUTDOWN"}, r.pub.SystemEventNames())

	var first, last status.StatusJSON
	require.NoError(t, json.Unmarshal(r.pub.SystemPayloads[0], &first))
	require.NoError(t, json.Unmarshal(r.pub.SystemPayloads[2], &last))
	assert.Equal(t, "UNKNOWN", first.Status.State)
	assert.False(t, first.Status.Ready)
	assert.Equal(t, "MEDIUM", last.Status.State)
	assert.Equal(t, "yellow", last.Status.Colour)
	assert.Equal(t, "SIGTERM", last.Status.Reason)
	assert.True(t, last.Status.Ready)
}
