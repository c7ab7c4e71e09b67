package service

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/SpeedDial/internal/app/model"
	infraPrometheus "github.com/sifan077/SpeedDial/internal/infra/prometheus"
	"go.uber.org/zap"
)

// EventSink receives lookup events. Emit must not block on slow backends.
type EventSink interface {
	Emit(ctx context.Context, event model.LookupEvent) error
}

// LogSink writes each event to the structured log at debug level.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event model.LookupEvent) error {
	s.logger.Debug("lookup event",
		zap.String("id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("number", event.Number),
		zap.String("url", event.URL),
		zap.String("ip", event.IP),
		zap.Time("timestamp", event.Timestamp),
	)
	return nil
}

// MetricsSink counts events by type.
type MetricsSink struct {
	metrics *infraPrometheus.Metrics
}

func NewMetricsSink(metrics *infraPrometheus.Metrics) *MetricsSink {
	return &MetricsSink{metrics: metrics}
}

func (s *MetricsSink) Emit(_ context.Context, event model.LookupEvent) error {
	s.metrics.ObserveEvent(string(event.Type))
	return nil
}

// EventPublisher forwards lookup events to NATS JetStream.
type EventPublisher struct {
	js      nats.JetStreamContext
	subject string
}

func NewEventPublisher(js nats.JetStreamContext) *EventPublisher {
	return &EventPublisher{js: js, subject: model.LookupStreamSubject}
}

// Emit publishes asynchronously; acknowledgements are not awaited.
func (p *EventPublisher) Emit(_ context.Context, event model.LookupEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode lookup event: %w", err)
	}
	if _, err := p.js.PublishAsync(p.subject, data); err != nil {
		return fmt.Errorf("publish lookup event: %w", err)
	}
	return nil
}

// EnsureLookupStream creates the lookup event stream when it is missing.
func EnsureLookupStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.LookupStreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     model.LookupStreamName,
		Subjects: []string{model.LookupStreamSubject},
		MaxBytes: model.LookupStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("create lookup stream: %w", err)
	}
	return nil
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, event model.LookupEvent) error

func (f SinkFunc) Emit(ctx context.Context, event model.LookupEvent) error {
	return f(ctx, event)
}
