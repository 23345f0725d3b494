package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted(pass string)                                                    {}
func (n *NoopSink) RunCompleted(pass, status string, duration time.Duration)                  {}
func (n *NoopSink) FeedDateCompleted(pass, sourceEnv, status string, duration time.Duration)  {}
func (n *NoopSink) FilesTransferred(sourceEnv string, count int)                              {}
func (n *NoopSink) StagingCleanupFailed()                                                     {}
func (n *NoopSink) ObjectsReconciled(count int)                                               {}
func (n *NoopSink) ReconcileError()                                                           {}
func (n *NoopSink) OrphansClosed(count int)                                                   {}
func (n *NoopSink) TriggerFired(schedule string)                                              {}
func (n *NoopSink) TriggerDropped(schedule string)                                            {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) NotificationAttempt(channel, statusClass string, duration time.Duration)   {}
