package mqtt

import (
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
)

// Configured returns a Publisher configured from flags. When no broker is set
// the Publisher is disabled: Enabled reports false and Publish does nothing.
func Configured() *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883). Empty disables publishing.")
	clientID := lflag.String("mqtt-client-id", "gridsync", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	prefix := lflag.String("mqtt-topic-prefix", "gridsync", "Prefix for notification topics")

	var p Publisher
	lflag.Do(func() {
		if *broker == "" {
			return
		}
		opts := paho_mqtt.NewClientOptions().
			AddBroker(*broker).
			SetClientID(*clientID).
			SetUsername(*username).
			SetPassword(*password).
			SetAutoReconnect(true).
			SetConnectTimeout(connectTimeout).
			SetWriteTimeout(publishTimeout).
			SetKeepAlive(30 * time.Second)
		p = *New(paho_mqtt.NewClient(opts), *prefix)
	})
	return &p
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}
