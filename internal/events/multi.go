package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rudolphlogin/feedload/internal/metrics"
)

type named struct {
	name string
	n    Notifier
}

// Multi delivers each event to every registered notifier in order. A
// failing notifier never stops the others. An empty Multi does nothing.
type Multi struct {
	notifiers []named
	metrics   metrics.Sink
	logger    *slog.Logger
}

func NewMulti(sink metrics.Sink, logger *slog.Logger) *Multi {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{metrics: sink, logger: logger.With("component", "events")}
}

// Add registers n under name. name labels metrics and logs.
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.notifiers = append(m.notifiers, named{name: name, n: n})
	return m
}

// Len returns the number of registered notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, nn := range m.notifiers {
		start := time.Now()
		err := nn.n.Notify(ctx, e)
		m.metrics.NotificationAttempt(nn.name, classify(err), time.Since(start))
		if err != nil {
			m.logger.Warn("notification failed", "notifier", nn.name, "event_id", e.ID,
				"type", e.Type, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", nn.name, err))
		}
	}
	return errors.Join(errs...)
}

func classify(err error) string {
	if err == nil {
		return metrics.StatusClass2xx
	}
	var se *StatusError
	if errors.As(err, &se) {
		return metrics.ClassifyStatus(se.StatusCode, nil)
	}
	return metrics.ClassifyStatus(0, err)
}
