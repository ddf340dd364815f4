// Package sample generates plausible readings for demos and local testing.
package sample

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

const (
	// PeakProductionKW is the output of the simulated system at noon.
	PeakProductionKW = 8.0
	baseConsumption  = 0.5
	batteryChance    = 0.3
	faultChance      = 0.05
)

// Generator produces readings from a seeded random source.
type Generator struct {
	rng *rand.Rand
}

// New returns a generator seeded with seed.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// ProductionKW returns a bell curve around noon with ±20% noise. There is no
// production before 6 or after 20.
func (g *Generator) ProductionKW(hour int) float64 {
	if hour < 6 || hour > 20 {
		return 0
	}
	d := float64(hour-12) / 8
	intensity := math.Max(0, 1-d*d)
	return PeakProductionKW * intensity * g.uniform(0.8, 1.2)
}

// ConsumptionKW returns household load with morning and evening peaks.
func (g *Generator) ConsumptionKW(hour int) float64 {
	switch {
	case hour >= 6 && hour <= 9:
		return baseConsumption + g.uniform(2, 4)
	case hour >= 17 && hour <= 22:
		return baseConsumption + g.uniform(3, 6)
	case hour > 22 || hour < 6:
		return baseConsumption + g.uniform(0.5, 1.5)
	default:
		return baseConsumption + g.uniform(1, 2.5)
	}
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Readings returns one reading every step between start and end inclusive.
// About a third of them carry battery data.
func (g *Generator) Readings(start, end time.Time, step time.Duration) []types.Reading {
	var readings []types.Reading
	for t := start; !t.After(end); t = t.Add(step) {
		hour := t.Hour()
		production := round(g.ProductionKW(hour), 3)
		consumption := round(g.ConsumptionKW(hour), 3)
		grid := production - consumption

		r := types.Reading{
			Timestamp:     t.UTC(),
			ProductionKW:  production,
			ConsumptionKW: consumption,
		}
		if g.rng.Float64() < batteryChance {
			r.BatterySOC = types.Float64(round(g.uniform(20, 95), 1))
			switch {
			case grid > 2:
				// charge from the surplus
				battery := round(math.Min(2, grid*0.3), 3)
				r.BatteryKW = types.Float64(battery)
				grid -= battery
			case grid < -1:
				battery := round(math.Max(-2, grid*0.2), 3)
				r.BatteryKW = types.Float64(battery)
				grid -= battery
			}
		}
		r.GridKW = round(grid, 3)
		readings = append(readings, r)
	}
	return readings
}

// PanelID returns the id of the i-th simulated panel, starting at 1.
func PanelID(i int) string {
	return fmt.Sprintf("INV%03d", i)
}

// Panels returns one reading per panel every step between start and end
// inclusive. Each panel produces its share of the site output and a few are
// randomly degraded.
func (g *Generator) Panels(panels int, start, end time.Time, step time.Duration) []types.PanelReading {
	var readings []types.PanelReading
	for t := start; !t.After(end); t = t.Add(step) {
		hour := t.Hour()
		site := g.ProductionKW(hour)
		for i := 1; i <= panels; i++ {
			watts := site / float64(panels) * g.uniform(0.8, 1.2) * 1000
			if g.rng.Float64() < faultChance {
				watts *= g.uniform(0, 0.3)
			}

			var voltage, current, temp float64
			if watts > 0 {
				voltage = g.uniform(35, 45)
				current = watts / voltage
				if hour >= 6 && hour <= 20 {
					temp = g.uniform(25, 65)
				} else {
					temp = g.uniform(15, 30)
				}
			} else {
				temp = g.uniform(15, 25)
			}

			readings = append(readings, types.PanelReading{
				Timestamp:    t.UTC(),
				PanelID:      PanelID(i),
				SerialNumber: types.String(fmt.Sprintf("SN%06d", 100000+g.rng.Intn(900000))),
				PowerW:       round(watts, 1),
				VoltageV:     types.Float64(round(voltage, 1)),
				CurrentA:     types.Float64(round(current, 2)),
				TemperatureC: types.Float64(round(temp, 1)),
			})
		}
	}
	return readings
}
