package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func TestPrometheusSink_Registration(t *testing.T) {
	_, reg := newTestSink(t)

	// Vec collectors only appear once a label set is used.
	n, err := promtest.GatherAndCount(reg,
		"feedload_staging_cleanup_errors_total",
		"feedload_runs_in_flight",
		"feedload_reconcile_objects_deleted_total",
		"feedload_bus_buffer_capacity",
	)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 4 {
		t.Errorf("registered series = %d, want 4", n)
	}
}

func TestPrometheusSink_RunLifecycle(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.RunStarted("getfiles")
	sink.RunStarted("dataload")
	if got := promtest.ToFloat64(sink.runsInFlight); got != 2 {
		t.Errorf("runs_in_flight = %v, want 2", got)
	}

	sink.RunCompleted("getfiles", "SUCCESS", 3*time.Second)
	sink.RunCompleted("dataload", "FAILED", time.Second)

	if got := promtest.ToFloat64(sink.runsInFlight); got != 0 {
		t.Errorf("runs_in_flight = %v, want 0", got)
	}
	if got := promtest.ToFloat64(sink.runsTotal.WithLabelValues("getfiles", "SUCCESS")); got != 1 {
		t.Errorf("runs_total{getfiles,SUCCESS} = %v, want 1", got)
	}
	if got := promtest.ToFloat64(sink.runsTotal.WithLabelValues("dataload", "FAILED")); got != 1 {
		t.Errorf("runs_total{dataload,FAILED} = %v, want 1", got)
	}
}

func TestPrometheusSink_FeedDateLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.FeedDateCompleted("getfiles", "sftp", "SUCCESS", time.Second)
	sink.FeedDateCompleted("getfiles", "sftp", "SUCCESS", time.Second)
	sink.FeedDateCompleted("getfiles", "s3", "FAILED", time.Second)
	sink.FeedDateCompleted("dataload", "s3", StatusSkipped, 0)

	if got := promtest.ToFloat64(sink.feedDatesTotal.WithLabelValues("getfiles", "sftp", "SUCCESS")); got != 2 {
		t.Errorf("feed_dates_total{sftp,SUCCESS} = %v, want 2", got)
	}
	if got := promtest.ToFloat64(sink.feedDatesTotal.WithLabelValues("getfiles", "s3", "FAILED")); got != 1 {
		t.Errorf("feed_dates_total{s3,FAILED} = %v, want 1", got)
	}

	// Skipped dates are counted but not timed.
	want := `
# HELP feedload_feed_date_duration_seconds Time spent on one feed date in seconds.
# TYPE feedload_feed_date_duration_seconds histogram
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="0.5"} 0
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="1"} 3
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="5"} 3
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="15"} 3
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="60"} 3
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="300"} 3
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="900"} 3
feedload_feed_date_duration_seconds_bucket{pass="getfiles",le="+Inf"} 3
feedload_feed_date_duration_seconds_sum{pass="getfiles"} 3
feedload_feed_date_duration_seconds_count{pass="getfiles"} 3
`
	if err := promtest.GatherAndCompare(reg, strings.NewReader(want), "feedload_feed_date_duration_seconds"); err != nil {
		t.Error(err)
	}
}

func TestPrometheusSink_Counters(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.FilesTransferred("sftp", 3)
	sink.FilesTransferred("sftp", 2)
	sink.StagingCleanupFailed()
	sink.ObjectsReconciled(4)
	sink.ReconcileError()
	sink.OrphansClosed(2)
	sink.EmitError()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"files_transferred", sink.filesTransferred.WithLabelValues("sftp"), 5},
		{"staging_cleanup_errors", sink.stagingCleanupErrors, 1},
		{"objects_reconciled", sink.objectsReconciled, 4},
		{"reconcile_errors", sink.reconcileErrors, 1},
		{"orphans_closed", sink.orphansClosed, 2},
		{"emit_errors", sink.emitErrorsTotal, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := promtest.ToFloat64(tt.c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestPrometheusSink_TriggerAndBuffer(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.TriggerFired("nightly-getfiles")
	sink.TriggerFired("nightly-getfiles")
	sink.TriggerDropped("nightly-dataload")
	sink.BufferCapacitySet(100)
	sink.BufferSizeUpdate(7)

	if got := promtest.ToFloat64(sink.triggersFired.WithLabelValues("nightly-getfiles")); got != 2 {
		t.Errorf("triggers_fired = %v, want 2", got)
	}
	if got := promtest.ToFloat64(sink.triggersDropped.WithLabelValues("nightly-dataload")); got != 1 {
		t.Errorf("triggers_dropped = %v, want 1", got)
	}
	if got := promtest.ToFloat64(sink.bufferCapacity); got != 100 {
		t.Errorf("buffer_capacity = %v, want 100", got)
	}
	if got := promtest.ToFloat64(sink.bufferSize); got != 7 {
		t.Errorf("buffer_size = %v, want 7", got)
	}
}

func TestPrometheusSink_NotificationLabels(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.NotificationAttempt("webhook", StatusClass2xx, 100*time.Millisecond)
	sink.NotificationAttempt("kafka", StatusClassConnectionError, time.Second)

	if got := promtest.ToFloat64(sink.notificationsTotal.WithLabelValues("webhook", "2xx")); got != 1 {
		t.Errorf("notifications{webhook,2xx} = %v, want 1", got)
	}
	if got := promtest.ToFloat64(sink.notificationsTotal.WithLabelValues("kafka", "connection_error")); got != 1 {
		t.Errorf("notifications{kafka,connection_error} = %v, want 1", got)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg)

	// Second sink on the same registry logs warnings and stays usable.
	sink := NewPrometheusSink(reg)
	sink.RunStarted("getfiles")
	sink.RunCompleted("getfiles", "SUCCESS", time.Second)
}
