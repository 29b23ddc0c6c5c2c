// Package events turns configuration events into reliable data-channel broadcasts.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/metrics"
)

// Sink delivers an encoded payload on a topic. Implementations deliver reliably to
// connected subscribers but do not acknowledge consumption.
type Sink interface {
	PublishReliable(ctx context.Context, topic string, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, topic string, payload []byte) error

// PublishReliable implements Sink.
func (f SinkFunc) PublishReliable(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// Publisher encodes events and hands them to a sink.
type Publisher struct {
	sink   Sink
	logger *logger.Logger
}

// NewPublisher creates a publisher. A nil sink makes every publish fail with ErrNoSink.
func NewPublisher(sink Sink, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{sink: sink, logger: log}
}

// ErrNoSink is returned when no transport is attached to the publisher.
var ErrNoSink = errors.New("no event sink attached")

// Publish serializes the event and broadcasts it on topic.
func (p *Publisher) Publish(ctx context.Context, topic string, event model.ConfigEvent) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	payload, err := Encode(event)
	if err != nil {
		metrics.RecordEvent(string(event.Type), false)
		return err
	}

	if p.sink == nil {
		metrics.RecordEvent(string(event.Type), false)
		return ErrNoSink
	}

	if err := p.sink.PublishReliable(ctx, topic, payload); err != nil {
		metrics.RecordEvent(string(event.Type), false)
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	metrics.RecordEvent(string(event.Type), true)
	p.logger.Debug("event published",
		zap.String("type", string(event.Type)),
		zap.String("topic", topic),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// Encode returns the canonical JSON form of an event.
func Encode(event model.ConfigEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// MultiSink fans a payload out to every sink. All sinks are attempted; errors are joined.
type MultiSink []Sink

// PublishReliable implements Sink.
func (m MultiSink) PublishReliable(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PublishReliable(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
