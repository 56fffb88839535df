package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "coldchain_"

	// Result labels for counters and histograms.
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	evaluationTotal   *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec
	unitsEvaluated    prometheus.Gauge

	activeAlerts *prometheus.GaugeVec
	alertEvents  *prometheus.CounterVec

	notificationsSent       *prometheus.CounterVec
	notificationsSuppressed *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		evaluationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_total",
				Help: "Total fleet evaluation passes by result",
			},
			[]string{"result"},
		)
		evaluationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Fleet evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		unitsEvaluated = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "units_evaluated",
				Help: "Units covered by the last evaluation pass",
			},
		)

		activeAlerts = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alerts",
				Help: "Currently active alerts by severity",
			},
			[]string{"severity"},
		)
		alertEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)

		notificationsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_sent_total",
				Help: "Total notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)
		notificationsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_suppressed_total",
				Help: "Total suppressed notification steps by reason",
			},
			[]string{"reason"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			evaluationTotal,
			evaluationLatency,
			unitsEvaluated,
			activeAlerts,
			alertEvents,
			notificationsSent,
			notificationsSuppressed,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveEvaluation records evaluation pass duration and result.
func ObserveEvaluation(result string, duration time.Duration, units int) {
	if result == "" {
		result = ResultSuccess
	}
	if evaluationTotal != nil {
		evaluationTotal.WithLabelValues(result).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if unitsEvaluated != nil && result == ResultSuccess {
		unitsEvaluated.Set(float64(units))
	}
}

// SetActiveAlerts sets the active alert gauge for a severity.
func SetActiveAlerts(severity string, count int) {
	if severity == "" {
		severity = "unknown"
	}
	if count < 0 {
		count = 0
	}
	if activeAlerts != nil {
		activeAlerts.WithLabelValues(severity).Set(float64(count))
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEvents != nil {
		alertEvents.WithLabelValues(event).Inc()
	}
}

// IncNotificationSent increments delivery counters.
func IncNotificationSent(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if notificationsSent != nil {
		notificationsSent.WithLabelValues(channel, result).Inc()
	}
}

// IncNotificationSuppressed increments suppression counters.
func IncNotificationSuppressed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if notificationsSuppressed != nil {
		notificationsSuppressed.WithLabelValues(reason).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}
