package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Sequence engine metrics
	StepsTotal                *prometheus.CounterVec
	BatchDuration             prometheus.Histogram
	BatchClaimed              prometheus.Histogram
	ContentGenerationFailures *prometheus.CounterVec
	DeliveryFailures          prometheus.Counter
	EnrollmentTransitions     *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
}

// New creates the application metrics and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed enrollment steps by outcome",
		}, []string{"status"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one batch of due enrollments",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		BatchClaimed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_claimed",
			Help:      "Number of enrollments claimed per batch",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		ContentGenerationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_generation_failures_total",
			Help:      "Total number of failed content resolutions by source",
		}, []string{"source"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of failed message dispatches",
		}),
		EnrollmentTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_transitions_total",
			Help:      "Total number of enrollment status changes",
		}, []string{"to_status"}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) ObserveStep(outcome string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBatch(claimed int, started time.Time) {
	if m == nil {
		return
	}
	m.BatchClaimed.Observe(float64(claimed))
	m.BatchDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ContentGenerationFailed(source string) {
	if m == nil {
		return
	}
	m.ContentGenerationFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) EnrollmentTransition(toStatus string) {
	if m == nil {
		return
	}
	m.EnrollmentTransitions.WithLabelValues(toStatus).Inc()
}

// ObserveDB records one database operation that started at started.
func (m *Metrics) ObserveDB(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.DatabaseOperations.WithLabelValues(operation, status(err)).Inc()
	m.DatabaseLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveRedis(operation string, err error) {
	if m == nil {
		return
	}
	m.RedisOperations.WithLabelValues(operation, status(err)).Inc()
}
