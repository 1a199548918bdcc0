// Package mqtt publishes notifications to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/types"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 10 * time.Second
)

// Publisher sends each notification to <prefix>/<device slug>/notification.
type Publisher struct {
	client paho_mqtt.Client
	prefix string
}

// New wraps a paho client. The client is not connected until Connect.
func New(client paho_mqtt.Client, prefix string) *Publisher {
	return &Publisher{
		client: client,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Connect connects to the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect failed: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker")
		return nil
	}
	return errors.New("unable to connect to mqtt broker in time")
}

// Close disconnects from the broker, waiting briefly for in-flight messages.
func (p *Publisher) Close() error {
	if p.Enabled() && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}

// Topic returns the topic notifications for deviceName are published on.
func (p *Publisher) Topic(deviceName string) string {
	s := strings.ReplaceAll(slug.Make(deviceName), "-", "_")
	if s == "" {
		s = "unknown"
	}
	if p.prefix == "" {
		return s + "/notification"
	}
	return p.prefix + "/" + s + "/notification"
}

type message struct {
	ID        string    `json:"id"`
	DeviceID  int64     `json:"deviceID"`
	Device    string    `json:"device"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Publish sends n to the broker at QoS 1 without the retain flag. It does
// nothing when no broker is configured.
func (p *Publisher) Publish(ctx context.Context, n types.Notification) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(message{
		ID:        n.ID,
		DeviceID:  n.DeviceID,
		Device:    n.DeviceName,
		State:     n.Direction.String(),
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := p.Topic(n.DeviceName)
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published notification", slog.String("topic", topic), slog.String("id", n.ID))
	return nil
}
