package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// localTimeLayout is how the telemetry service writes timestamps: no zone and
// an optional fractional second.
const localTimeLayout = "2006-01-02T15:04:05.999999999"

// LocalTime is a wall-clock timestamp without a zone. It also accepts RFC3339
// so that zone-aware producers still decode.
type LocalTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *LocalTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse(localTimeLayout, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(localTimeLayout))
}

// EnergySample is one telemetry reading. Power values are in kW and
// BatterySOC is a percentage. Samples are identified by ID.
type EnergySample struct {
	ID               int64     `json:"id"`
	Timestamp        LocalTime `json:"timestamp"`
	SolarGeneration  float64   `json:"solar_generation"`
	GridImport       float64   `json:"grid_import"`
	GridExport       float64   `json:"grid_export"`
	BatteryCharge    float64   `json:"battery_charge"`
	BatteryDischarge float64   `json:"battery_discharge"`
	BatterySOC       float64   `json:"battery_soc"`
	HomeConsumption  float64   `json:"home_consumption"`
}

// DeviceState is a controllable load as reported by the telemetry service.
type DeviceState struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	DeviceType  string  `json:"device_type"` // e.g. "washing_machine", "ev_charger"
	PowerRating float64 `json:"power_rating"`
	IsOn        bool    `json:"is_on"`
	Priority    int64   `json:"priority"` // higher wins
}

// DeviceControl is the body of a device control command.
type DeviceControl struct {
	IsOn bool `json:"is_on"`
}
