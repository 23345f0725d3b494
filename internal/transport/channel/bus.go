// Package channel carries run requests from the scheduler to the dispatcher
// over a buffered Go channel.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// ErrBufferFull is returned when the buffer stays full for the emit timeout.
var ErrBufferFull = errors.New("run request buffer full")

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// MetricsSink is the subset of metrics.Sink the bus reports to.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*RequestBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *RequestBus) { b.emitTimeout = d }
}

func WithMetrics(m MetricsSink) Option {
	return func(b *RequestBus) { b.metrics = m }
}

type RequestBus struct {
	ch          chan domain.RunRequest
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewRequestBus(buffer int, opts ...Option) *RequestBus {
	b := &RequestBus{
		ch:          make(chan domain.RunRequest, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit queues req. It fails with ErrBufferFull when no space frees up
// within the emit timeout, or with the context error.
func (b *RequestBus) Emit(ctx context.Context, req domain.RunRequest) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- req:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		b.emitError()
		return ctx.Err()
	case <-timer.C:
		b.emitError()
		return ErrBufferFull
	}
}

func (b *RequestBus) emitError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}

func (b *RequestBus) Channel() <-chan domain.RunRequest {
	return b.ch
}

// Close stops the bus. Emit must not be called afterwards.
func (b *RequestBus) Close() {
	close(b.ch)
}
