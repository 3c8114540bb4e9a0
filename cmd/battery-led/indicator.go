package main

import (
	"github.com/sweeney/battery-led/internal/logic"
	"github.com/sweeney/battery-led/internal/mqtt"
)

// teeIndicator shows each pattern on a primary indicator and then on any
// mirrors. Mirror failures are logged, not returned.
type teeIndicator struct {
	primary logic.Indicator
	mirrors []logic.Indicator
}

func (t *teeIndicator) Show(p logic.Pattern) error {
	if err := t.primary.Show(p); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Show(p); err != nil {
			log.WithError(err).Warn("mirror indicator")
		}
	}
	return nil
}

// discardPublisher stands in when MQTT is disabled.
type discardPublisher struct{}

func (discardPublisher) Publish(logic.Event) error            { return nil }
func (discardPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (discardPublisher) PublishPattern(logic.Pattern) error   { return nil }
func (discardPublisher) Close() error                         { return nil }
func (discardPublisher) IsConnected() bool                    { return false }
