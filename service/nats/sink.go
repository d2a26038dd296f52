package nats

import (
	"context"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/metrics"
)

// EventSink forwards orchestrator events to a Publisher.
type EventSink struct {
	publisher Publisher
	metrics   *metrics.Metrics
}

// NewEventSink creates a sink. If metrics is nil, no metrics will be recorded.
func NewEventSink(p Publisher, m *metrics.Metrics) *EventSink {
	return &EventSink{publisher: p, metrics: m}
}

// RecordEvent implements authz.EventSink.
func (s *EventSink) RecordEvent(ctx context.Context, e authz.Event) error {
	event := FromAuthzEvent(e)
	start := time.Now()
	err := s.publisher.PublishAuthorization(ctx, event)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordNATSPublish(event.Subject(), status, time.Since(start).Seconds())
	}
	return err
}
