package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "facade_"

	resultSuccess = "success"
	resultPartial = "partial"
	resultError   = "error"

	sinkCache   = "cache"
	sinkDurable = "durable"
)

var (
	registerOnce sync.Once

	ingestMessages *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	sinkWrites     *prometheus.CounterVec
	sinkLatency    *prometheus.HistogramVec

	transportState      *prometheus.GaugeVec
	transportReconnects prometheus.Counter

	sweepChecks       *prometheus.CounterVec
	sweepCheckLatency *prometheus.HistogramVec
	alertsEmitted     *prometheus.CounterVec
	alertsPruned      prometheus.Counter
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Total ingested telemetry messages by result",
			},
			[]string{"result"},
		)
		decodeErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_decode_errors_total",
				Help: "Total dropped telemetry messages by decode reason",
			},
			[]string{"reason"},
		)
		sinkWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_writes_total",
				Help: "Total sink writes by sink and result",
			},
			[]string{"sink", "result"},
		)
		sinkLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sink_write_latency_seconds",
				Help:    "Sink write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		)

		transportState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "transport_state",
				Help: "Current transport state (1 for the active state)",
			},
			[]string{"state"},
		)
		transportReconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "transport_reconnects_total",
				Help: "Total transport reconnect attempts",
			},
		)

		sweepChecks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_checks_total",
				Help: "Total sweep check runs by check and result",
			},
			[]string{"check", "result"},
		)
		sweepCheckLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_check_latency_seconds",
				Help:    "Sweep check latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		)
		alertsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_emitted_total",
				Help: "Total alerts persisted by type and severity",
			},
			[]string{"type", "severity"},
		)
		alertsPruned = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_pruned_total",
				Help: "Total alerts removed by retention",
			},
		)

		prometheus.MustRegister(
			ingestMessages,
			decodeErrors,
			sinkWrites,
			sinkLatency,
			transportState,
			transportReconnects,
			sweepChecks,
			sweepCheckLatency,
			alertsEmitted,
			alertsPruned,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest counts one handled message.
func ObserveIngest(result string) {
	if result == "" {
		result = resultSuccess
	}
	if ingestMessages != nil {
		ingestMessages.WithLabelValues(result).Inc()
	}
}

// IncDecodeError counts a dropped message.
func IncDecodeError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveSinkWrite records one cache or durable write.
func ObserveSinkWrite(sink string, err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if sinkWrites != nil {
		sinkWrites.WithLabelValues(sink, result).Inc()
	}
	if sinkLatency != nil {
		sinkLatency.WithLabelValues(sink).Observe(duration.Seconds())
	}
}

// SetTransportState marks state as the active transport state.
func SetTransportState(state string, all []string) {
	if transportState == nil {
		return
	}
	for _, candidate := range all {
		value := 0.0
		if candidate == state {
			value = 1
		}
		transportState.WithLabelValues(candidate).Set(value)
	}
}

// IncReconnect counts a reconnect attempt.
func IncReconnect() {
	if transportReconnects != nil {
		transportReconnects.Inc()
	}
}

// ObserveSweepCheck records one sweep check run.
func ObserveSweepCheck(check string, err error, duration time.Duration) {
	if check == "" {
		check = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if sweepChecks != nil {
		sweepChecks.WithLabelValues(check, result).Inc()
	}
	if sweepCheckLatency != nil {
		sweepCheckLatency.WithLabelValues(check).Observe(duration.Seconds())
	}
}

// IncAlert counts one persisted alert.
func IncAlert(alertType, severity string) {
	if alertsEmitted != nil {
		alertsEmitted.WithLabelValues(alertType, severity).Inc()
	}
}

// AddAlertsPruned counts alerts removed by retention.
func AddAlertsPruned(count int64) {
	if count <= 0 {
		return
	}
	if alertsPruned != nil {
		alertsPruned.Add(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultPartial = resultPartial
	ResultError   = resultError

	SinkCache   = sinkCache
	SinkDurable = sinkDurable
)
