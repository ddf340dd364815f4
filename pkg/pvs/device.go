package pvs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// DeviceType is the DEVICE_TYPE value reported by the gateway.
type DeviceType string

const (
	DeviceTypePVS        DeviceType = "PVS"
	DeviceTypePowerMeter DeviceType = "Power Meter"
	DeviceTypeInverter   DeviceType = "Inverter"
)

// Device is one decoded entry of the gateway device list. The set of
// implementations is closed: PVSDevice, PowerMeterDevice and InverterDevice.
type Device interface {
	DeviceType() DeviceType
	// MalformedFields lists numeric fields that failed to parse and were
	// replaced with 0.
	MalformedFields() []string
	sealed()
}

// PVSDevice is the gateway controller itself.
type PVSDevice struct {
	Serial          string `json:"serial"`
	State           string `json:"state"`
	SoftwareVersion string `json:"software_version"`
	Model           string `json:"model"`
}

func (PVSDevice) DeviceType() DeviceType    { return DeviceTypePVS }
func (PVSDevice) MalformedFields() []string { return nil }
func (PVSDevice) sealed()                   {}

// PowerMeterDevice is a production or consumption meter. The role is carried
// in Subtype.
type PowerMeterDevice struct {
	Serial      string  `json:"serial"`
	Type        string  `json:"type"`
	Subtype     string  `json:"subtype"`
	PowerKW     float64 `json:"power_kw"`
	EnergyKWH   float64 `json:"energy_kwh"`
	VoltageV    float64 `json:"voltage_v"`
	CurrentA    float64 `json:"current_a"`
	FrequencyHz float64 `json:"frequency_hz"`
	State       string  `json:"state"`
	malformed   []string
}

func (PowerMeterDevice) DeviceType() DeviceType      { return DeviceTypePowerMeter }
func (d PowerMeterDevice) MalformedFields() []string { return d.malformed }
func (PowerMeterDevice) sealed()                     {}

// IsProduction reports whether the meter measures production.
func (d PowerMeterDevice) IsProduction() bool {
	return strings.Contains(strings.ToUpper(d.Subtype), "PRODUCTION")
}

// IsConsumption reports whether the meter measures site consumption.
func (d PowerMeterDevice) IsConsumption() bool {
	return strings.Contains(strings.ToUpper(d.Subtype), "CONSUMPTION")
}

// InverterDevice is a microinverter attached to a single panel.
type InverterDevice struct {
	Serial       string  `json:"serial"`
	Model        string  `json:"model"`
	Panel        string  `json:"panel"`
	ModuleSerial string  `json:"module_serial"`
	PowerW       float64 `json:"power_w"`
	PowerKW      float64 `json:"power_kw"`
	EnergyKWH    float64 `json:"energy_kwh"`
	VoltageV     float64 `json:"voltage_v"`
	CurrentA     float64 `json:"current_a"`
	FrequencyHz  float64 `json:"frequency_hz"`
	TemperatureC float64 `json:"temperature_c"`
	MPPTVoltageV float64 `json:"mppt_voltage_v"`
	MPPTCurrentA float64 `json:"mppt_current_a"`
	State        string  `json:"state"`
	DataTime     string  `json:"datatime"`
	malformed    []string
}

func (InverterDevice) DeviceType() DeviceType      { return DeviceTypeInverter }
func (d InverterDevice) MalformedFields() []string { return d.malformed }
func (InverterDevice) sealed()                     {}

// DecodeDevice converts one raw device entry into its typed variant. Entries
// with an unknown DEVICE_TYPE return a nil Device and no error. Numeric
// fields that fail to parse default to 0 and are listed in MalformedFields.
func DecodeDevice(raw json.RawMessage) (Device, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: device entry: %v", types.ErrMalformedRecord, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: device entry is null", types.ErrMalformedRecord)
	}
	f := fields{raw: m}

	switch DeviceType(f.str("DEVICE_TYPE")) {
	case DeviceTypePVS:
		return PVSDevice{
			Serial:          f.str("SERIAL"),
			State:           f.str("STATE"),
			SoftwareVersion: f.str("SWVER"),
			Model:           f.str("MODEL"),
		}, nil
	case DeviceTypePowerMeter:
		d := PowerMeterDevice{
			Serial:      f.str("SERIAL"),
			Type:        f.str("TYPE"),
			Subtype:     f.str("subtype"),
			PowerKW:     f.num("p_3phsum_kw"),
			EnergyKWH:   f.num("net_ltea_3phsum_kwh"),
			VoltageV:    f.num("v12_v"),
			CurrentA:    f.num("i_a"),
			FrequencyHz: f.num("freq_hz"),
			State:       f.str("STATE"),
		}
		d.malformed = f.bad
		return d, nil
	case DeviceTypeInverter:
		d := InverterDevice{
			Serial:       f.str("SERIAL"),
			Model:        f.str("MODEL"),
			Panel:        f.str("PANEL"),
			ModuleSerial: f.str("MOD_SN"),
			PowerKW:      f.num("p_3phsum_kw"),
			EnergyKWH:    f.num("ltea_3phsum_kwh"),
			VoltageV:     f.num("vln_3phavg_v"),
			CurrentA:     f.num("i_3phsum_a"),
			FrequencyHz:  f.num("freq_hz"),
			TemperatureC: f.num("t_htsnk_degc"),
			MPPTVoltageV: f.num("v_mppt1_v"),
			MPPTCurrentA: f.num("i_mppt1_a"),
			State:        f.str("STATE"),
			DataTime:     f.str("DATATIME"),
		}
		d.PowerW = d.PowerKW * 1000
		d.malformed = f.bad
		return d, nil
	}
	return nil, nil
}

// fields reads loosely typed values out of a device entry, remembering which
// numeric keys could not be parsed.
type fields struct {
	raw map[string]any
	bad []string
}

func (f *fields) str(key string) string {
	switch v := f.raw[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (f *fields) num(key string) float64 {
	var (
		v   float64
		err error
	)
	switch n := f.raw[key].(type) {
	case nil:
		return 0
	case json.Number:
		v, err = n.Float64()
	case float64:
		v = n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		v, err = strconv.ParseFloat(s, 64)
	default:
		err = fmt.Errorf("unexpected %T", n)
	}
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.bad = append(f.bad, key)
		return 0
	}
	return v
}
