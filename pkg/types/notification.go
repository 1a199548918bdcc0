package types

import (
	"fmt"
	"time"
)

// Direction is the direction of an autonomous device change.
type Direction int

const (
	// AutonomousOff is a device switching itself off.
	AutonomousOff Direction = iota
	// AutonomousOn is a device switching itself on.
	AutonomousOn
)

// DirectionFor returns the direction of a transition into the isOn state.
func DirectionFor(isOn bool) Direction {
	if isOn {
		return AutonomousOn
	}
	return AutonomousOff
}

func (d Direction) String() string {
	switch d {
	case AutonomousOn:
		return "on"
	case AutonomousOff:
		return "off"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	switch d {
	case AutonomousOn, AutonomousOff:
		return []byte(d.String()), nil
	default:
		return nil, fmt.Errorf("unknown direction: %d", int(d))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "on":
		*d = AutonomousOn
	case "off":
		*d = AutonomousOff
	default:
		return fmt.Errorf("unknown direction: %q", string(b))
	}
	return nil
}

// AttributedEvent is a device transition that was not caused by a command
// issued from here.
type AttributedEvent struct {
	DeviceID   int64     `json:"deviceID"`
	DeviceName string    `json:"deviceName"`
	Direction  Direction `json:"direction"`
}

// Message renders the user facing text for the event.
func (e AttributedEvent) Message() string {
	return fmt.Sprintf("%s was turned %s automatically", e.DeviceName, e.Direction)
}

// Notification is a message shown for a limited time.
type Notification struct {
	ID         string        `json:"id"`
	DeviceID   int64         `json:"deviceID"`
	DeviceName string        `json:"deviceName"`
	Direction  Direction     `json:"direction"`
	Message    string        `json:"message"`
	CreatedAt  time.Time     `json:"createdAt"`
	TTL        time.Duration `json:"ttl"`
}

// ExpiresAt returns when the notification stops being shown.
func (n Notification) ExpiresAt() time.Time {
	return n.CreatedAt.Add(n.TTL)
}

// Expired reports whether the notification is no longer live at now.
func (n Notification) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt())
}
