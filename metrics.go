package peers

import (
	"time"

	"github.com/maxbolgarin/lang"
	"github.com/prometheus/client_golang/prometheus"
)

// Event labels for metrics.
const (
	MetricsEventActivity  = "activity"
	MetricsEventMigration = "migration"
	MetricsEventLeft      = "left"
	MetricsEventChannel   = "channel"

	MetricsResultOK    = "ok"
	MetricsResultError = "error"

	defaultSubsystem = "peers"
)

// MetricsHistogramBuckets are buckets for handlers duration (1ms to 10s).
var MetricsHistogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// MetricsConfig contains metrics configuration.
// Metrics are disabled if Registry is nil.
type MetricsConfig struct {
	// Registry is a registry for metrics.
	Registry prometheus.Registerer
	// Namespace is a prefix of every metric name.
	Namespace string
	// Subsystem is a subsystem of every metric name. Default: "peers".
	Subsystem string
	// ConstLabels are labels added to every metric.
	ConstLabels prometheus.Labels
}

type metrics struct {
	MetricsConfig

	eventsTotal            *prometheus.CounterVec   // observed events by kind
	storeErrorsTotal       *prometheus.CounterVec   // failed store operations by operation
	detachedTasksTotal     *prometheus.CounterVec   // best-effort tasks by result
	infoRequestsTotal      *prometheus.CounterVec   // info command by resolution path and result
	handlerDurationSeconds *prometheus.HistogramVec // event handlers duration by kind

	disabled bool
}

func newMetrics(config MetricsConfig) *metrics {
	if config.Registry == nil {
		return &metrics{disabled: true}
	}

	m := &metrics{MetricsConfig: config}

	m.eventsTotal = m.newCounter("events_total", "Total number of observed events", "event")
	m.storeErrorsTotal = m.newCounter("store_errors_total", "Total number of failed store operations", "operation")
	m.detachedTasksTotal = m.newCounter("detached_tasks_total", "Total number of best-effort background tasks", "result")
	m.infoRequestsTotal = m.newCounter("info_requests_total", "Total number of info requests", "path", "result")
	m.handlerDurationSeconds = m.newHistogram("handler_duration_seconds", "Event handlers execution duration in seconds",
		MetricsHistogramBuckets, "event")

	return m
}

func (m *metrics) incEvent(event string) {
	if m == nil || m.disabled {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

func (m *metrics) incStoreError(operation string) {
	if m == nil || m.disabled {
		return
	}
	m.storeErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *metrics) incDetachedTask(result string) {
	if m == nil || m.disabled {
		return
	}
	m.detachedTasksTotal.WithLabelValues(result).Inc()
}

func (m *metrics) incInfoRequest(path, result string) {
	if m == nil || m.disabled {
		return
	}
	m.infoRequestsTotal.WithLabelValues(path, result).Inc()
}

func (m *metrics) observeHandlerDuration(event string, d time.Duration) {
	if m == nil || m.disabled {
		return
	}
	m.handlerDurationSeconds.WithLabelValues(event).Observe(d.Seconds())
}

func (r *metrics) newCounter(name, help string, labelNames ...string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
		},
		labelNames,
	)
	r.Registry.MustRegister(counter)
	return counter
}

func (r *metrics) newHistogram(name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
			Buckets:     buckets,
		},
		labelNames,
	)
	r.Registry.MustRegister(histogram)
	return histogram
}
