// Command battery-led samples a battery voltage through an ADC and shows the
// debounced charge band on a bicolour LED, mirroring state changes to MQTT.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/battery-led/internal/adc"
	"github.com/sweeney/battery-led/internal/gpio"
	"github.com/sweeney/battery-led/internal/logic"
	"github.com/sweeney/battery-led/internal/mqtt"
	"github.com/sweeney/battery-led/internal/status"
	"github.com/sweeney/battery-led/internal/tick"
)

var version = "No version provided"

var log = logrus.New()

type Args struct {
	Source       string        `arg:"--source" help:"ADC source (i2c, serial)"`
	I2CBus       string        `arg:"--i2c-bus" help:"I2C bus name (empty for the first bus)"`
	I2CAddress   string        `arg:"--i2c-address" help:"I2C address of the ADC"`
	I2CRegister  string        `arg:"--i2c-register" help:"ADC result register"`
	SerialDevice string        `arg:"--serial-device" help:"Serial device streaming raw ADC values"`
	SerialBaud   int           `arg:"--serial-baud" help:"Serial baud rate"`
	Reference    float64       `arg:"--reference" help:"Converter reference voltage used for calibration"`
	GPIOChip     string        `arg:"--gpio-chip" help:"GPIO chip for the LED (empty to disable the physical LED)"`
	PinRed       int           `arg:"--pin-red" help:"Line offset of the red emitter"`
	PinGreen     int           `arg:"--pin-green" help:"Line offset of the green emitter"`
	ActiveLow    bool          `arg:"--active-low" help:"Emitters are lit when their line is driven low"`
	Tick         time.Duration `arg:"--tick" help:"Debounce timer tick period"`
	Poll         time.Duration `arg:"--poll" help:"State machine step interval"`
	Broker       string        `arg:"--broker" help:"MQTT broker address (empty to disable)"`
	Heartbeat    time.Duration `arg:"--heartbeat" help:"Heartbeat interval (0 to disable)"`
	PrintState   bool          `arg:"--print-state" help:"Print a JSON status snapshot and exit"`
	LogLevel     string        `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	args := Args{
		Source:       "i2c",
		I2CAddress:   "0x25",
		I2CRegister:  "0x10",
		SerialDevice: "/dev/ttyACM0",
		SerialBaud:   adc.DefaultBaud,
		Reference:    logic.DefaultCalibration.Reference,
		GPIOChip:     gpio.DefaultChip,
		PinRed:       gpio.DefaultPinRed,
		PinGreen:     gpio.DefaultPinGreen,
		Tick:         tick.DefaultInterval,
		Poll:         10 * time.Millisecond,
		Broker:       "tcp://192.168.1.200:1883",
		Heartbeat:    15 * time.Minute,
	}
	p := arg.MustParse(&args)
	if err := validateArgs(args); err != nil {
		p.Fail(err.Error())
	}
	return args
}

func validateArgs(args Args) error {
	if args.Reference <= 0 {
		return fmt.Errorf("--reference must be positive, got %v", args.Reference)
	}
	if args.Tick <= 0 {
		return fmt.Errorf("--tick must be positive, got %v", args.Tick)
	}
	if args.Poll <= 0 {
		return fmt.Errorf("--poll must be positive, got %v", args.Poll)
	}
	if args.Heartbeat < 0 {
		return fmt.Errorf("--heartbeat must not be negative, got %v", args.Heartbeat)
	}
	return nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(entry.Level.String()), entry.Message)
	for k, v := range entry.Data {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func main() {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)

	if err := run(args); err != nil {
		log.Fatal(err.Error())
	}
}

func run(args Args) error {
	log.Info("Running version: ", version)

	cal := logic.Calibration{Reference: args.Reference, FullScale: logic.DefaultCalibration.FullScale}

	source, desc, err := openSource(args)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer source.Close()

	cfg := status.Config{
		Source:      desc,
		TickUs:      args.Tick.Microseconds(),
		PollMs:      args.Poll.Milliseconds(),
		HeartbeatMs: args.Heartbeat.Milliseconds(),
		Broker:      args.Broker,
		ActiveLow:   args.ActiveLow,
	}

	if args.PrintState {
		return printState(os.Stdout, source, cal, cfg, printStateAttempts, printStateRetry)
	}

	var publisher mqtt.Publisher = discardPublisher{}
	var mqttStatus mqtt.ConnectionStatus = discardPublisher{}

	tracker := status.NewTracker(time.Now(), cfg)

	if args.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             args.Broker,
			Logger:             log,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		publisher, mqttStatus = pub, pub
	}

	indicator, closeIndicator, err := openIndicator(args, publisher)
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	defer closeIndicator()

	timer := &logic.DebounceTimer{}
	ticker := tick.NewTicker(args.Tick)
	ticker.Register(timer.Tick)
	ticker.Start()
	defer ticker.Stop()

	machine := logic.NewMachine(source, indicator, timer, time.Now(), logic.WithCalibration(cal))

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	}

	log.WithFields(logrus.Fields{
		"source":    desc,
		"tick":      args.Tick,
		"poll":      args.Poll,
		"broker":    args.Broker,
		"heartbeat": args.Heartbeat,
	}).Info("started")

	poll := time.NewTicker(args.Poll)
	defer poll.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ended, _ := source.(endingSource)
	return runLoop(machine, publisher, mqttStatus, tracker, ended, args.Heartbeat, time.Now, poll.C, sigCh)
}

// endingSource is implemented by sources whose stream can end for good, such
// as a serial adapter that is unplugged.
type endingSource interface {
	Done() <-chan struct{}
	Err() error
}

// openSource opens the configured ADC and returns it with a description for
// status output.
func openSource(args Args) (adc.Source, string, error) {
	switch args.Source {
	case "i2c":
		addr, err := strconv.ParseUint(args.I2CAddress, 0, 16)
		if err != nil {
			return nil, "", fmt.Errorf("parse i2c address %q: %w", args.I2CAddress, err)
		}
		reg, err := strconv.ParseUint(args.I2CRegister, 0, 8)
		if err != nil {
			return nil, "", fmt.Errorf("parse i2c register %q: %w", args.I2CRegister, err)
		}
		src, err := adc.OpenI2CSource(args.I2CBus, uint16(addr), byte(reg))
		if err != nil {
			return nil, "", err
		}
		return src, fmt.Sprintf("i2c:%s@0x%02x", args.I2CBus, addr), nil
	case "serial":
		src, err := adc.OpenSerialSource(args.SerialDevice, args.SerialBaud, log)
		if err != nil {
			return nil, "", err
		}
		return src, fmt.Sprintf("serial:%s", args.SerialDevice), nil
	}
	return nil, "", fmt.Errorf("unknown adc source %q", args.Source)
}

// openIndicator builds the physical LED (if enabled) mirrored to MQTT.
func openIndicator(args Args, publisher mqtt.Publisher) (logic.Indicator, func(), error) {
	mirror := mqtt.NewMirror(publisher)
	if args.GPIOChip == "" {
		log.Info("physical LED disabled, mirroring to MQTT only")
		return mirror, func() {}, nil
	}

	led, err := gpio.NewRealIndicator(args.GPIOChip, args.PinRed, args.PinGreen, args.ActiveLow)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := led.Close(); err != nil {
			log.WithError(err).Warn("close led")
		}
	}
	return &teeIndicator{primary: led, mirrors: []logic.Indicator{mirror}}, closeFn, nil
}

const (
	printStateAttempts = 10
	printStateRetry    = 100 * time.Millisecond
)

// printState runs the machine until it shows a power-on classification, or
// the attempts run out, and writes the status snapshot as JSON.
func printState(w io.Writer, source logic.RawSource, cal logic.Calibration, cfg status.Config, attempts int, retry time.Duration) error {
	tracker := status.NewTracker(time.Now(), cfg)
	machine := logic.NewMachine(source, mqtt.NewMirror(discardPublisher{}), &logic.DebounceTimer{}, time.Now(), logic.WithCalibration(cal))

	for i := 0; i < attempts && !machine.Started(); i++ {
		if i > 0 {
			time.Sleep(retry)
		}
		_, err := machine.Step(time.Now())
		if err != nil && !errors.Is(err, adc.ErrNoSample) {
			return fmt.Errorf("read state: %w", err)
		}
	}

	tracker.Update(machine)
	if _, err := fmt.Fprintln(w, string(status.FormatJSON(tracker.Snapshot()))); err != nil {
		return err
	}
	if !machine.Started() {
		return fmt.Errorf("no plausible reading after %d attempts", attempts)
	}
	return nil
}

// publishShutdown sends the retained SHUTDOWN event with a final snapshot.
func publishShutdown(machine *logic.Machine, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now time.Time, reason string) {
	event := mqtt.SystemEvent{
		Timestamp: now,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		tracker.Update(machine)
		event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.WithError(err).Warn("failed to publish shutdown event")
	} else {
		log.Info("published shutdown event")
	}
}

// runLoop steps the machine on every tick until a signal arrives or the ADC
// source ends. A lost source is returned as an error so the service manager
// restarts the daemon.
func runLoop(machine *logic.Machine, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, source endingSource, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	var sourceDone <-chan struct{}
	if source != nil {
		sourceDone = source.Done()
	}

	for {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			publishShutdown(machine, publisher, mqttStatus, tracker, now(), signalName)
			return nil

		case <-sourceDone:
			err := fmt.Errorf("adc source ended: %w", source.Err())
			log.WithError(err).Error("adc source lost, shutting down")
			publishShutdown(machine, publisher, mqttStatus, tracker, now(), "ADC_LOST")
			return err

		case <-tick:
			t := now()
			event, err := machine.Step(t)
			if err != nil {
				if errors.Is(err, logic.ErrInvalidSample) {
					log.WithError(err).Debug("skipping sample")
				} else {
					log.WithError(err).WithField("phase", machine.Phase()).Warn("step error")
				}
			}

			if event != nil {
				log.WithFields(logrus.Fields{
					"state":    event.State,
					"previous": event.Previous,
					"voltage":  fmt.Sprintf("%.3f", event.Voltage),
				}).Infof("event: %s (%s)", mqtt.EventName(*event), event.Pattern.Colour())
				if err := publisher.Publish(*event); err != nil {
					log.WithError(err).Warn("publish error")
					// Don't crash on publish failure
				}
			}

			if tracker != nil {
				tracker.Update(machine)
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}

			if hbData := machine.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Infof("heartbeat: uptime=%v state=%s voltage=%.3f to_low=%d to_medium=%d to_high=%d rejected=%d",
					hbData.Uptime, hbData.State, hbData.Voltage,
					hbData.Counts.ToLow, hbData.Counts.ToMedium, hbData.Counts.ToHigh, hbData.Counts.Rejected)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.WithError(err).Warn("heartbeat publish error")
				}
			}
		}
	}
}
