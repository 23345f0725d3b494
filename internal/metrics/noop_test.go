package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	var s Sink = NewNoopSink()

	s.RunStarted("getfiles")
	s.RunCompleted("getfiles", "SUCCESS", time.Second)
	s.FeedDateCompleted("getfiles", "sftp", StatusSkipped, 0)
	s.FilesTransferred("sftp", 3)
	s.StagingCleanupFailed()
	s.ObjectsReconciled(2)
	s.ReconcileError()
	s.OrphansClosed(1)
	s.TriggerFired("nightly")
	s.TriggerDropped("nightly")
	s.BufferSizeUpdate(10)
	s.BufferCapacitySet(100)
	s.EmitError()
	s.NotificationAttempt("webhook", StatusClass2xx, 200*time.Millisecond)
}
