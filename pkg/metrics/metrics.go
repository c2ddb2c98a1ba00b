package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	BusCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zergswarm_bus_calls_total",
			Help: "Total number of bus calls by message type and outcome",
		},
		[]string{"message_type", "outcome"},
	)

	BusCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zergswarm_bus_call_duration_seconds",
			Help:    "Bus call round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message_type"},
	)

	BusConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zergswarm_bus_connections_active",
			Help: "Number of clients currently registered with the overmind's bus server",
		},
	)

	// Colony metrics
	ColoniesSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zergswarm_colonies_spawned_total",
			Help: "Total number of colony subprocesses spawned",
		},
	)

	ColoniesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zergswarm_colonies_running",
			Help: "Number of colony subprocesses currently running",
		},
	)

	PartitionColonyCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zergswarm_partition_colony_count",
			Help: "Number of colonies the current partition plan calls for",
		},
	)

	PartitionHatchlingsPerColony = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zergswarm_partition_hatchlings_per_colony",
			Help:    "Distribution of hatchling counts assigned per colony by the partition plan",
			Buckets: []float64{10, 25, 50, 100, 150, 200, 300, 500},
		},
	)

	// Hatchling / request metrics, mirroring the sections of a Report
	HatchlingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zergswarm_hatchling_requests_total",
			Help: "Total number of hatchling requests by task name and section (success, request errors, monitored errors, other errors)",
		},
		[]string{"task", "section"},
	)

	HatchlingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zergswarm_hatchling_request_duration_seconds",
			Help:    "Successful hatchling request duration in seconds by task name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	ConnectionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zergswarm_connection_retries_total",
			Help: "Total number of request retries issued by the connection client",
		},
		[]string{"task"},
	)

	// Overmind aggregation metrics
	ReportsMergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zergswarm_reports_merged_total",
			Help: "Total number of stats reports merged into the overmind's running total",
		},
	)

	SatellitesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zergswarm_satellites_registered",
			Help: "Number of standalone satellite processes currently registered with the overmind",
		},
	)
)

func init() {
	prometheus.MustRegister(BusCallsTotal)
	prometheus.MustRegister(BusCallDuration)
	prometheus.MustRegister(BusConnectionsActive)

	prometheus.MustRegister(ColoniesSpawnedTotal)
	prometheus.MustRegister(ColoniesRunning)
	prometheus.MustRegister(PartitionColonyCount)
	prometheus.MustRegister(PartitionHatchlingsPerColony)

	prometheus.MustRegister(HatchlingRequestsTotal)
	prometheus.MustRegister(HatchlingRequestDuration)
	prometheus.MustRegister(ConnectionRetriesTotal)

	prometheus.MustRegister(ReportsMergedTotal)
	prometheus.MustRegister(SatellitesRegistered)
}

// Handler returns the Prometheus HTTP handler, served by the overmind and
// colony admin listeners.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
