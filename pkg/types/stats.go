package types

// Period is a statistics window label.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// PeriodStats is the aggregate view over the readings of one period. It is
// derived on every request and never stored.
//
// The kWh totals are plain sums of kW samples and are not weighted by the
// sampling interval.
type PeriodStats struct {
	Period              Period  `json:"period"`
	TotalProductionKWH  float64 `json:"total_production_kwh"`
	TotalConsumptionKWH float64 `json:"total_consumption_kwh"`
	TotalExportKWH      float64 `json:"total_export_kwh"`
	TotalImportKWH      float64 `json:"total_import_kwh"`
	SelfConsumptionRate float64 `json:"self_consumption_rate"`
	PeakProductionKW    float64 `json:"peak_production_kw"`
	AverageProductionKW float64 `json:"average_production_kw"`
	// Samples is the number of readings in the window.
	Samples int `json:"samples"`
}
