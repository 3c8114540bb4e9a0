package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/battery-led/internal/logic"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

var errPublishTimeout = errors.New("publish timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	Logger     logrus.FieldLogger

	// OnConnectionChange, if set, is called after every connect and
	// connection loss.
	OnConnectionChange func(connected bool)

	// Now supplies timestamps for RECONNECTED and the will message.
	Now func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	send     func(msg bufferedMsg) error
	log      logrus.FieldLogger
	now      func() time.Time
	onChange func(bool)

	mu            sync.Mutex
	buf           *ringBuffer
	connected     bool
	everConnected bool
	replaying     bool
}

func newPublisher(opts Options) *RealPublisher {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RealPublisher{
		log:      opts.Logger,
		now:      opts.Now,
		onChange: opts.OnConnectionChange,
		buf:      newRingBuffer(opts.BufferSize, opts.Logger),
	}
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "battery-led"
	}
	p := newPublisher(opts)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	copts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleConnectionLost(err) })

	p.client = paho.NewClient(copts)
	p.send = p.pahoSend

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func (p *RealPublisher) pahoSend(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

// handleConnect replays buffered messages. Runs on every (re)connect.
// Publishers keep buffering until the backlog is drained; sends happen
// outside the lock.
func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	reconnect := p.everConnected
	p.everConnected = true
	p.replaying = true
	p.mu.Unlock()

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err := p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
			p.log.WithError(err).Warn("mqtt: publish RECONNECTED failed")
		}
	}

	replayed := 0
	for {
		p.mu.Lock()
		if !p.replaying {
			// Connection lost mid-replay; newer messages stay buffered.
			p.mu.Unlock()
			return
		}
		pending := p.buf.drainAll()
		if len(pending) == 0 {
			p.replaying = false
			p.connected = true
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		for _, msg := range pending {
			if err := p.send(msg); err != nil {
				p.log.WithError(err).WithField("topic", msg.topic).Warn("mqtt: replay failed")
			}
		}
		replayed += len(pending)
	}

	if replayed > 0 {
		p.log.WithField("count", replayed).Info("mqtt: replayed buffered messages")
	}
	if reconnect {
		p.log.Info("mqtt: reconnected")
	}
	if p.onChange != nil {
		p.onChange(true)
	}
}

func (p *RealPublisher) handleConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.replaying = false
	p.mu.Unlock()

	p.log.WithError(err).Warn("mqtt: connection lost, buffering")
	if p.onChange != nil {
		p.onChange(false)
	}
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(msg)
}

// Publish sends a battery event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	if err := p.publish(bufferedMsg{topic: Topic, payload: payload}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	msg := bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}
	if err := p.publish(msg); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// PublishPattern sends the LED pattern as a retained message.
func (p *RealPublisher) PublishPattern(pat logic.Pattern) error {
	payload, err := FormatPatternPayload(pat)
	if err != nil {
		return fmt.Errorf("format led payload: %w", err)
	}

	if err := p.publish(bufferedMsg{topic: TopicLED, payload: payload, qos: 1, retained: true}); err != nil {
		return fmt.Errorf("publish led: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(1000) // 1 second timeout
	}
	return nil
}
