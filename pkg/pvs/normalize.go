package pvs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// DeviceList is the body returned by the DeviceList command.
type DeviceList struct {
	Result  string            `json:"result,omitempty"`
	Devices []json.RawMessage `json:"devices"`
}

// Decode parses each entry independently. Entries that cannot be decoded are
// logged and counted in the returned int instead of failing the list.
// Entries of an unknown type are dropped silently.
func (l DeviceList) Decode(ctx context.Context) ([]Device, int) {
	devices := make([]Device, 0, len(l.Devices))
	var bad int
	for i, raw := range l.Devices {
		d, err := DecodeDevice(raw)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed device entry", slog.Int("index", i), slog.Any("error", err))
			bad++
			continue
		}
		if d == nil {
			continue
		}
		if fs := d.MalformedFields(); len(fs) > 0 {
			log.Ctx(ctx).WarnContext(
				ctx,
				"device has malformed numeric fields",
				slog.String("deviceType", string(d.DeviceType())),
				slog.Any("fields", fs),
			)
		}
		devices = append(devices, d)
	}
	return devices, bad
}

// Snapshot is the normalized view of one device list.
type Snapshot struct {
	PVS         *PVSDevice         `json:"pvs"`
	PowerMeters []PowerMeterDevice `json:"power_meters"`
	Inverters   []InverterDevice   `json:"inverters"`

	// TotalPowerKW is the highest reading of all production meters.
	TotalPowerKW  float64 `json:"total_power_kw"`
	ConsumptionKW float64 `json:"consumption_kw"`
	GridKW        float64 `json:"grid_kw"`

	// MalformedFields counts numeric fields that were replaced with 0.
	MalformedFields int `json:"malformed_fields"`
}

// Normalize reduces devices to site-level totals plus per-inverter detail.
//
// Production is the maximum over every meter whose subtype contains
// PRODUCTION, which guards against duplicate or zeroed meters. Consumption
// meters report negative values so their magnitude is used. Grid is always
// production minus consumption.
func Normalize(devices []Device) Snapshot {
	snap := Snapshot{
		PowerMeters: []PowerMeterDevice{},
		Inverters:   []InverterDevice{},
	}
	for _, d := range devices {
		snap.MalformedFields += len(d.MalformedFields())
		switch d := d.(type) {
		case PVSDevice:
			snap.PVS = &d
		case PowerMeterDevice:
			snap.PowerMeters = append(snap.PowerMeters, d)
			if d.IsProduction() {
				snap.TotalPowerKW = math.Max(snap.TotalPowerKW, d.PowerKW)
			} else if d.IsConsumption() {
				snap.ConsumptionKW = math.Abs(d.PowerKW)
			}
		case InverterDevice:
			snap.Inverters = append(snap.Inverters, d)
		default:
			panic(fmt.Sprintf("pvs: unhandled device variant %T", d))
		}
	}
	snap.GridKW = snap.TotalPowerKW - snap.ConsumptionKW
	return snap
}

// Reading converts the snapshot into a canonical reading at ts.
func (s Snapshot) Reading(ts time.Time) types.Reading {
	return types.Reading{
		Timestamp:     ts.UTC(),
		ProductionKW:  s.TotalPowerKW,
		ConsumptionKW: s.ConsumptionKW,
		GridKW:        s.GridKW,
	}
}

var errMissingSerial = errors.New("inverter has no serial")

// PanelReading converts the inverter into a panel reading at ts. The panel is
// identified by the inverter serial and the module serial is preferred as
// serial number.
func (d InverterDevice) PanelReading(ts time.Time) (types.PanelReading, error) {
	if d.Serial == "" {
		return types.PanelReading{}, fmt.Errorf("%w: %w", types.ErrMalformedRecord, errMissingSerial)
	}
	serial := d.ModuleSerial
	if serial == "" {
		serial = d.Serial
	}
	return types.PanelReading{
		Timestamp:    ts.UTC(),
		PanelID:      d.Serial,
		SerialNumber: types.String(serial),
		PowerW:       math.Max(0, d.PowerW),
		VoltageV:     types.Float64(d.VoltageV),
		CurrentA:     types.Float64(d.CurrentA),
		TemperatureC: types.Float64(d.TemperatureC),
	}, nil
}
