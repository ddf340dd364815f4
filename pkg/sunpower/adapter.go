package sunpower

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// CurrentPower is the live snapshot returned by the CurrentPower query. All
// power values are in watts. Pointers distinguish absent fields from zero.
type CurrentPower struct {
	Timestamp   string   `json:"timestamp"`
	Production  *float64 `json:"production"`
	Consumption *float64 `json:"consumption"`
	Grid        *float64 `json:"grid"`
	Battery     *float64 `json:"battery"`
	BatterySOC  *float64 `json:"batterySOC"`
}

// EnergyPoint is one item of the EnergyData series, in watts.
type EnergyPoint struct {
	Timestamp   string   `json:"timestamp"`
	Production  *float64 `json:"production"`
	Consumption *float64 `json:"consumption"`
	Grid        *float64 `json:"grid"`
	Battery     *float64 `json:"battery"`
}

// Reading converts the snapshot to kW. Battery fields are only set when the
// API reported them.
func (p CurrentPower) Reading() (types.Reading, error) {
	ts, err := ParseTimestamp(p.Timestamp)
	if err != nil {
		return types.Reading{}, err
	}
	r := types.Reading{
		Timestamp:     ts,
		ProductionKW:  kw(p.Production),
		ConsumptionKW: kw(p.Consumption),
		GridKW:        kw(p.Grid),
	}
	if p.Battery != nil {
		r.BatteryKW = types.Float64(*p.Battery / 1000)
	}
	if p.BatterySOC != nil {
		r.BatterySOC = types.Float64(*p.BatterySOC)
	}
	return r, nil
}

// Reading converts the series item to kW.
func (p EnergyPoint) Reading() (types.Reading, error) {
	ts, err := ParseTimestamp(p.Timestamp)
	if err != nil {
		return types.Reading{}, err
	}
	r := types.Reading{
		Timestamp:     ts,
		ProductionKW:  kw(p.Production),
		ConsumptionKW: kw(p.Consumption),
		GridKW:        kw(p.Grid),
	}
	if p.Battery != nil {
		r.BatteryKW = types.Float64(*p.Battery / 1000)
	}
	return r, nil
}

// SeriesReading decodes and converts one raw EnergyData item. Any failure is
// reported as types.ErrMalformedRecord.
func SeriesReading(raw json.RawMessage) (types.Reading, error) {
	var p EnergyPoint
	if err := json.Unmarshal(raw, &p); err != nil {
		return types.Reading{}, fmt.Errorf("%w: %v", types.ErrMalformedRecord, err)
	}
	return p.Reading()
}

// layouts accepted by ParseTimestamp. Zone-less values are taken as UTC and
// day or week aggregates may carry only a date.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseTimestamp parses an ISO-8601 date-time and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", types.ErrMalformedRecord)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", types.ErrMalformedRecord, s)
}

func kw(w *float64) float64 {
	if w == nil {
		return 0
	}
	return *w / 1000
}
