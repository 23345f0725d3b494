package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Run metrics
	runsTotal            *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	feedDatesTotal       *prometheus.CounterVec
	feedDateDuration     *prometheus.HistogramVec
	filesTransferred     *prometheus.CounterVec
	stagingCleanupErrors prometheus.Counter
	runsInFlight         prometheus.Gauge

	// Reconciliation metrics
	objectsReconciled prometheus.Counter
	reconcileErrors   prometheus.Counter
	orphansClosed     prometheus.Counter

	// Trigger metrics
	triggersFired   *prometheus.CounterVec
	triggersDropped *prometheus.CounterVec
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Notification metrics
	notificationsTotal   *prometheus.CounterVec
	notificationDuration prometheus.Histogram

	logger *slog.Logger
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{logger: slog.Default().With("component", "metrics")}
	s.initRunMetrics(reg)
	s.initReconcileMetrics(reg)
	s.initTriggerMetrics(reg)
	s.initNotificationMetrics(reg)
	return s
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedload_runs_total",
		Help: "Total number of finished runs by pass and status.",
	}, []string{"pass", "status"})
	s.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedload_run_duration_seconds",
		Help:    "Wall time of a full run in seconds.",
		Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"pass"})
	s.feedDatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedload_feed_dates_total",
		Help: "Total number of processed feed dates by pass, source environment and status.",
	}, []string{"pass", "source_env", "status"})
	s.feedDateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedload_feed_date_duration_seconds",
		Help:    "Time spent on one feed date in seconds.",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"pass"})
	s.filesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedload_files_transferred_total",
		Help: "Total number of files landed in the durable store.",
	}, []string{"source_env"})
	s.stagingCleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedload_staging_cleanup_errors_total",
		Help: "Total number of staging directories that could not be removed.",
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedload_runs_in_flight",
		Help: "Number of runs currently executing.",
	})

	s.register(reg, s.runsTotal, "feedload_runs_total")
	s.register(reg, s.runDuration, "feedload_run_duration_seconds")
	s.register(reg, s.feedDatesTotal, "feedload_feed_dates_total")
	s.register(reg, s.feedDateDuration, "feedload_feed_date_duration_seconds")
	s.register(reg, s.filesTransferred, "feedload_files_transferred_total")
	s.register(reg, s.stagingCleanupErrors, "feedload_staging_cleanup_errors_total")
	s.register(reg, s.runsInFlight, "feedload_runs_in_flight")
}

func (s *PrometheusSink) initReconcileMetrics(reg prometheus.Registerer) {
	s.objectsReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedload_reconcile_objects_deleted_total",
		Help: "Total number of objects deleted by reconciliation after failed attempts.",
	})
	s.reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedload_reconcile_errors_total",
		Help: "Total number of reconciliation passes that did not complete cleanly.",
	})
	s.orphansClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedload_orphans_closed_total",
		Help: "Total number of dangling STARTED records closed as FAILED.",
	})

	s.register(reg, s.objectsReconciled, "feedload_reconcile_objects_deleted_total")
	s.register(reg, s.reconcileErrors, "feedload_reconcile_errors_total")
	s.register(reg, s.orphansClosed, "feedload_orphans_closed_total")
}

func (s *PrometheusSink) initTriggerMetrics(reg prometheus.Registerer) {
	s.triggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedload_triggers_fired_total",
		Help: "Total number of scheduled run requests emitted.",
	}, []string{"schedule"})
	s.triggersDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedload_triggers_dropped_total",
		Help: "Total number of scheduled run requests that could not be queued.",
	}, []string{"schedule"})
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedload_bus_buffer_size",
		Help: "Current number of run requests waiting in the bus.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedload_bus_buffer_capacity",
		Help: "Capacity of the run request bus.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedload_bus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.triggersFired, "feedload_triggers_fired_total")
	s.register(reg, s.triggersDropped, "feedload_triggers_dropped_total")
	s.register(reg, s.bufferSize, "feedload_bus_buffer_size")
	s.register(reg, s.bufferCapacity, "feedload_bus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "feedload_bus_emit_errors_total")
}

func (s *PrometheusSink) initNotificationMetrics(reg prometheus.Registerer) {
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedload_notifications_total",
		Help: "Total number of outcome notifications by channel and status class.",
	}, []string{"channel", "status_class"})
	s.notificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedload_notification_duration_seconds",
		Help:    "Notification latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.register(reg, s.notificationsTotal, "feedload_notifications_total")
	s.register(reg, s.notificationDuration, "feedload_notification_duration_seconds")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", "name", name, "err", err)
	}
}

func (s *PrometheusSink) RunStarted(pass string) {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunCompleted(pass, status string, duration time.Duration) {
	s.runsInFlight.Dec()
	s.runsTotal.WithLabelValues(pass, status).Inc()
	s.runDuration.WithLabelValues(pass).Observe(duration.Seconds())
}

func (s *PrometheusSink) FeedDateCompleted(pass, sourceEnv, status string, duration time.Duration) {
	s.feedDatesTotal.WithLabelValues(pass, sourceEnv, status).Inc()
	if status != StatusSkipped {
		s.feedDateDuration.WithLabelValues(pass).Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) FilesTransferred(sourceEnv string, count int) {
	s.filesTransferred.WithLabelValues(sourceEnv).Add(float64(count))
}

func (s *PrometheusSink) StagingCleanupFailed() {
	s.stagingCleanupErrors.Inc()
}

func (s *PrometheusSink) ObjectsReconciled(count int) {
	s.objectsReconciled.Add(float64(count))
}

func (s *PrometheusSink) ReconcileError() {
	s.reconcileErrors.Inc()
}

func (s *PrometheusSink) OrphansClosed(count int) {
	s.orphansClosed.Add(float64(count))
}

func (s *PrometheusSink) TriggerFired(schedule string) {
	s.triggersFired.WithLabelValues(schedule).Inc()
}

func (s *PrometheusSink) TriggerDropped(schedule string) {
	s.triggersDropped.WithLabelValues(schedule).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) NotificationAttempt(channel, statusClass string, duration time.Duration) {
	s.notificationsTotal.WithLabelValues(channel, statusClass).Inc()
	s.notificationDuration.Observe(duration.Seconds())
}
