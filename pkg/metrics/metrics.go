package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "solaranalyzer_"
)

var (
	registerOnce sync.Once

	syncTotal   *prometheus.CounterVec
	syncLatency *prometheus.HistogramVec
	syncItems   *prometheus.CounterVec

	liveSubscribers prometheus.Gauge
	liveDropped     prometheus.Counter

	logEntriesWritten prometheus.Counter
	logEntriesDropped prometheus.Counter
)

// Init registers the metrics with the default registry. It is safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		syncTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_total",
				Help: "Total sync calls by source and final state",
			},
			[]string{"source", "state"},
		)
		syncLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sync_latency_seconds",
				Help:    "Sync latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "state"},
		)
		syncItems = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_items_total",
				Help: "Items handled by syncs by source and outcome",
			},
			[]string{"source", "outcome"},
		)

		liveSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_subscribers",
				Help: "Connected live update subscribers",
			},
		)
		liveDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_dropped_subscribers_total",
				Help: "Subscribers dropped because they could not keep up",
			},
		)

		logEntriesWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "log_entries_written_total",
				Help: "Log entries persisted to the database",
			},
		)
		logEntriesDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "log_entries_dropped_total",
				Help: "Log entries dropped before reaching the database",
			},
		)

		prometheus.MustRegister(
			syncTotal,
			syncLatency,
			syncItems,
			liveSubscribers,
			liveDropped,
			logEntriesWritten,
			logEntriesDropped,
		)
	})
}

// ObserveSync records the outcome of a sync call.
func ObserveSync(source, state string, duration time.Duration) {
	if syncTotal != nil {
		syncTotal.WithLabelValues(source, state).Inc()
	}
	if syncLatency != nil {
		syncLatency.WithLabelValues(source, state).Observe(duration.Seconds())
	}
}

// AddSyncItems adds count to the items counter for outcome (inserted,
// duplicate, skipped).
func AddSyncItems(source, outcome string, count int) {
	if count <= 0 {
		return
	}
	if syncItems != nil {
		syncItems.WithLabelValues(source, outcome).Add(float64(count))
	}
}

// SetLiveSubscribers sets the current subscriber count.
func SetLiveSubscribers(n int) {
	if liveSubscribers != nil {
		liveSubscribers.Set(float64(n))
	}
}

// IncLiveDropped counts a subscriber dropped for being slow or gone.
func IncLiveDropped() {
	if liveDropped != nil {
		liveDropped.Inc()
	}
}

// AddLogEntriesWritten counts persisted log entries.
func AddLogEntriesWritten(count int) {
	if count <= 0 {
		return
	}
	if logEntriesWritten != nil {
		logEntriesWritten.Add(float64(count))
	}
}

// AddLogEntriesDropped counts log entries that were never persisted.
func AddLogEntriesDropped(count int) {
	if count <= 0 {
		return
	}
	if logEntriesDropped != nil {
		logEntriesDropped.Add(float64(count))
	}
}
