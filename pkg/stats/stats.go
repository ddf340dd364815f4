// Package stats computes period statistics over stored readings.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// ParsePeriod returns the period named by s.
func ParsePeriod(s string) (types.Period, error) {
	switch p := types.Period(s); p {
	case types.PeriodToday, types.PeriodWeek, types.PeriodMonth, types.PeriodYear:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q (must be today, week, month or year)", types.ErrInvalidPeriod, s)
}

// Window returns the start of period relative to now. Today starts at local
// midnight in loc, the others are fixed lookbacks. The window ends at now.
func Window(period types.Period, now time.Time, loc *time.Location) (time.Time, error) {
	switch period {
	case types.PeriodToday:
		if loc == nil {
			loc = time.UTC
		}
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	case types.PeriodWeek:
		return now.Add(-7 * 24 * time.Hour), nil
	case types.PeriodMonth:
		return now.Add(-30 * 24 * time.Hour), nil
	case types.PeriodYear:
		return now.Add(-365 * 24 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", types.ErrInvalidPeriod, period)
}

// Compute reduces readings into the statistics of period in one pass.
//
// Each kW sample counts as one kWh. Samples are not weighted by the interval
// between readings.
func Compute(period types.Period, readings []types.Reading) types.PeriodStats {
	s := types.PeriodStats{Period: period, Samples: len(readings)}
	if len(readings) == 0 {
		return s
	}

	for _, r := range readings {
		s.TotalProductionKWH += r.ProductionKW
		s.TotalConsumptionKWH += r.ConsumptionKW
		if r.GridKW > 0 {
			s.TotalExportKWH += r.GridKW
		} else if r.GridKW < 0 {
			s.TotalImportKWH += -r.GridKW
		}
		s.PeakProductionKW = math.Max(s.PeakProductionKW, r.ProductionKW)
	}

	s.AverageProductionKW = s.TotalProductionKWH / float64(len(readings))
	if s.TotalProductionKWH > 0 {
		s.SelfConsumptionRate = (s.TotalProductionKWH - s.TotalExportKWH) / s.TotalProductionKWH * 100
	}
	return s
}
