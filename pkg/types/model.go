package types

import (
	"encoding/json"
	"time"
)

// Source names used for data source tracking and status entries.
const (
	SourceLocal = "pvs6_local"
	SourceCloud = "sunpower_cloud"
)

// Reading is the canonical site-level snapshot of production, consumption and
// grid flow. Timestamp is the unique key and is always stored in UTC.
type Reading struct {
	Timestamp     time.Time `json:"timestamp"`
	ProductionKW  float64   `json:"production_kw"`
	ConsumptionKW float64   `json:"consumption_kw"`
	// GridKW is positive when exporting and negative when importing.
	GridKW     float64  `json:"grid_kw"`
	BatteryKW  *float64 `json:"battery_kw"`
	BatterySOC *float64 `json:"battery_soc"`
}

// Validate checks the value ranges accepted for a reading.
func (r Reading) Validate() error {
	if r.Timestamp.IsZero() {
		return validationError("timestamp is required")
	}
	if r.ProductionKW < 0 {
		return validationError("production_kw must be >= 0")
	}
	if r.ConsumptionKW < 0 {
		return validationError("consumption_kw must be >= 0")
	}
	if r.BatterySOC != nil && (*r.BatterySOC < 0 || *r.BatterySOC > 100) {
		return validationError("battery_soc must be between 0 and 100")
	}
	return nil
}

// PanelReading is the output of a single inverter/panel at a point in time.
// It is unique per (Timestamp, PanelID).
type PanelReading struct {
	Timestamp    time.Time `json:"timestamp"`
	PanelID      string    `json:"panel_id"`
	SerialNumber *string   `json:"serial_number"`
	PowerW       float64   `json:"power_w"`
	VoltageV     *float64  `json:"voltage_v"`
	CurrentA     *float64  `json:"current_a"`
	TemperatureC *float64  `json:"temperature_c"`
}

// Validate checks the value ranges accepted for a panel reading.
func (p PanelReading) Validate() error {
	if p.Timestamp.IsZero() {
		return validationError("timestamp is required")
	}
	if p.PanelID == "" {
		return validationError("panel_id is required")
	}
	if p.PowerW < 0 {
		return validationError("power_w must be >= 0")
	}
	if p.VoltageV != nil && *p.VoltageV < 0 {
		return validationError("voltage_v must be >= 0")
	}
	if p.CurrentA != nil && *p.CurrentA < 0 {
		return validationError("current_a must be >= 0")
	}
	return nil
}

// StatusLevel is the severity of a SystemStatus entry.
type StatusLevel string

const (
	StatusOK      StatusLevel = "OK"
	StatusWarning StatusLevel = "WARNING"
	StatusError   StatusLevel = "ERROR"
)

// SystemStatus is one entry of the status log shown by the status endpoint.
type SystemStatus struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    StatusLevel `json:"status"`
	Component string      `json:"component"`
	Message   string      `json:"message,omitempty"`
}

// SourceState tracks the last outcome of syncing from an upstream source.
type SourceState struct {
	Name                string    `json:"name"`
	Type                string    `json:"type"`
	LastSuccessfulFetch time.Time `json:"last_successful_fetch,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LogEntry is a persisted application log record.
type LogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Logger    string          `json:"logger"`
	Message   string          `json:"message"`
	Source    string          `json:"source,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Attrs     json.RawMessage `json:"attrs,omitempty"`
}

// WriteResult reports the outcome of an idempotent batch write.
type WriteResult struct {
	ReadingsInserted int `json:"readings_inserted"`
	PanelsInserted   int `json:"panels_inserted"`
	// Duplicates counts rows that already existed and were left untouched.
	Duplicates int `json:"duplicates"`
}

// Add accumulates another result into r.
func (r *WriteResult) Add(o WriteResult) {
	r.ReadingsInserted += o.ReadingsInserted
	r.PanelsInserted += o.PanelsInserted
	r.Duplicates += o.Duplicates
}

// Float64 returns a pointer to v. It exists for building optional fields.
func Float64(v float64) *float64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}
