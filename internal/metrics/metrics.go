package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Ingestion metrics
	TradesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_trades_processed_total",
			Help: "Total canonical trades pushed on the unified trade stream",
		},
		[]string{"exchange"},
	)

	TradesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_trades_dropped_total",
			Help: "Total trades dropped because a subscriber buffer was full",
		},
		[]string{"exchange"},
	)

	KlinesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_klines_built_total",
			Help: "Total kline advances produced by the builder",
		},
		[]string{"exchange_market", "time_frame"},
	)

	// Connection governance metrics
	ConnectionsCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "candlescan_connections_count",
			Help: "Connections counted by the governor in the current reset window",
		},
		[]string{"exchange"},
	)

	ReconnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_reconnection_events_total",
			Help: "Total websocket reconnection events tracked per exchange",
		},
		[]string{"exchange"},
	)

	GovernorSaturations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_governor_saturations_total",
			Help: "Times the connection governor reached its cap within a window",
		},
		[]string{"exchange"},
	)

	// Backfill metrics
	BackfillJobsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "candlescan_backfill_jobs_queued_total",
			Help: "Total history load jobs queued",
		},
	)

	BackfillJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_backfill_jobs_completed_total",
			Help: "Total history load jobs completed by outcome",
		},
		[]string{"outcome"}, // ok, error, unbuildable
	)

	BackfillPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_backfill_pages_fetched_total",
			Help: "Total backfill pages fetched per exchange",
		},
		[]string{"exchange"},
	)

	BackfillQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "candlescan_backfill_queue_depth",
			Help: "History load jobs currently waiting in the queue",
		},
	)

	// State manager metrics
	FKEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_fk_emissions_total",
			Help: "Full-candle events emitted to subscribers",
		},
		[]string{"time_frame"},
	)

	IKEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_ik_emissions_total",
			Help: "In-progress-candle events emitted to subscribers",
		},
		[]string{"time_frame"},
	)

	IKThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_ik_throttled_total",
			Help: "In-progress-candle updates suppressed by the 100ms throttle",
		},
		[]string{"time_frame"},
	)

	GapKlinesFilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_gap_klines_filled_total",
			Help: "Synthetic klines generated to fill history gaps",
		},
		[]string{"time_frame"},
	)

	// Publishing metrics
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlescan_publish_failures_total",
			Help: "Total failed Redis publishes",
		},
		[]string{"channel_type"}, // fk, ik, build
	)
)

// CounterValue reads the current value of a labeled counter. Meant for
// log summaries and tests, not for scraping; Prometheus reads the
// registry directly.
func CounterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}

	m := &dto.Metric{}
	if counter.Write(m) != nil {
		return 0
	}
	return m.Counter.GetValue()
}
