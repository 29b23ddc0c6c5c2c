package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

const (
	// JobsStream holds agent dispatch jobs.
	JobsStream = "VOICE_JOBS"

	// EventsStream mirrors configuration events for auditing.
	EventsStream = "VOICE_EVENTS"

	// JobsPrefix is the prefix for dispatch job subjects.
	JobsPrefix = "voice.jobs"

	// EventsPrefix is the prefix for configuration event subjects.
	EventsPrefix = "voice.events"
)

// ErrMalformedJob is returned for dispatch payloads that cannot be decoded.
var ErrMalformedJob = errors.New("malformed dispatch job")

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStreams ensures the jobs and events streams exist.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	js := m.client.JetStream()

	configs := []jetstream.StreamConfig{
		{
			Name:        JobsStream,
			Subjects:    []string{JobsPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Description: "Voice agent dispatch jobs",
		},
		{
			Name:        EventsStream,
			Subjects:    []string{EventsPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			MaxBytes:    10 * 1024 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Description: "Product configuration events",
		},
	}

	for _, cfg := range configs {
		// Check if stream exists
		if _, err := js.Stream(ctx, cfg.Name); err == nil {
			continue
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
	}

	return nil
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// JobSubject returns the subject for a dispatch job.
func JobSubject(agentName, room string) string {
	return fmt.Sprintf("%s.%s.%s", JobsPrefix, token(agentName), token(room))
}

// AgentJobsFilter returns the filter subject for all jobs of an agent.
func AgentJobsFilter(agentName string) string {
	return fmt.Sprintf("%s.%s.>", JobsPrefix, token(agentName))
}

// RoomJobsFilter returns the filter subject for all jobs in a room.
func RoomJobsFilter(room string) string {
	return fmt.Sprintf("%s.*.%s", JobsPrefix, token(room))
}

// RoomEventsFilter returns the filter subject for every event mirrored from room.
func RoomEventsFilter(room string) string {
	return fmt.Sprintf("%s.%s.*", EventsPrefix, token(room))
}

// EventSubject returns the subject for a configuration event mirrored from room.
func EventSubject(room, topic string) string {
	return fmt.Sprintf("%s.%s.%s", EventsPrefix, token(room), token(topic))
}

// PublishDispatch publishes a dispatch job to JetStream.
func (m *StreamManager) PublishDispatch(ctx context.Context, job *model.DispatchJob) (uint64, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, JobSubject(job.AgentName, job.Room), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	return ack.Sequence, nil
}

// JobHandler runs one dispatch job. A returned error asks for redelivery.
type JobHandler func(ctx context.Context, job *model.DispatchJob) error

// ConsumeDispatch delivers jobs for agentName to handler until ctx is done.
func (m *StreamManager) ConsumeDispatch(ctx context.Context, agentName string, handler JobHandler) error {
	consumer, err := m.client.JetStream().CreateOrUpdateConsumer(ctx, JobsStream, jetstream.ConsumerConfig{
		Durable:       "agent-" + token(agentName),
		FilterSubject: AgentJobsFilter(agentName),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatch consumer: %w", err)
	}

	log := m.client.logger
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		job, err := DecodeDispatch(msg.Data())
		if err != nil {
			log.Warn("dropping dispatch job", zap.String("subject", msg.Subject()), zap.Error(err))
			_ = msg.Term()
			return
		}

		if err := handler(ctx, job); err != nil {
			log.Warn("dispatch job failed", zap.String("job_id", job.ID), zap.Error(err))
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to consume dispatch jobs: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}

// DecodeDispatch parses and checks a dispatch job payload.
func DecodeDispatch(data []byte) (*model.DispatchJob, error) {
	var job model.DispatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.ID == "" || job.Room == "" {
		return nil, fmt.Errorf("%w: id and room are required", ErrMalformedJob)
	}
	return &job, nil
}

// DispatchHistory retrieves up to limit jobs recorded for room.
func (m *StreamManager) DispatchHistory(ctx context.Context, room string, limit int) ([]model.DispatchJob, error) {
	js := m.client.JetStream()

	// Create ephemeral consumer
	consumer, err := js.CreateConsumer(ctx, JobsStream, jetstream.ConsumerConfig{
		FilterSubject: RoomJobsFilter(room),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dispatch jobs: %w", err)
	}

	var jobs []model.DispatchJob
	for msg := range batch.Messages() {
		job, err := DecodeDispatch(msg.Data())
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return jobs, nil
}

// EventSink mirrors a room's configuration events into the events stream.
type EventSink struct {
	manager *StreamManager
	room    string
}

// NewEventSink creates a sink for room.
func NewEventSink(manager *StreamManager, room string) *EventSink {
	return &EventSink{manager: manager, room: room}
}

// PublishReliable implements events.Sink.
func (s *EventSink) PublishReliable(ctx context.Context, topic string, payload []byte) error {
	if _, err := s.manager.client.JetStream().Publish(ctx, EventSubject(s.room, topic), payload); err != nil {
		return fmt.Errorf("failed to mirror event: %w", err)
	}
	return nil
}

// WatchEvents delivers configuration events mirrored from room, starting with the next one,
// until ctx is done or stop is called.
func (m *StreamManager) WatchEvents(ctx context.Context, room string, handler func(payload []byte)) (stop func(), err error) {
	consumer, err := m.client.JetStream().OrderedConsumer(ctx, EventsStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{RoomEventsFilter(room)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Data())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch events: %w", err)
	}

	return cc.Stop, nil
}
