package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/dialog"
	"github.com/capitalize-ai/voice-configurator/internal/events"
	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/room"
	"github.com/capitalize-ai/voice-configurator/internal/service"
	"github.com/capitalize-ai/voice-configurator/internal/voice"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/metrics"
)

// Transport is the room connection a session runs over.
type Transport interface {
	dialog.DataSource
	dialog.RoomCloser
	events.Sink
	voice.Speaker
	WaitForParticipant(ctx context.Context) error
	OnUtterance(handler func(dialog.DataPacket))
	Disconnect()
}

// Connector joins roomName as identity.
type Connector func(ctx context.Context, roomName, identity string) (Transport, error)

// MirrorFactory returns an additional event sink for a room. It may return nil.
type MirrorFactory func(roomName string) events.Sink

// LiveKitConnector connects sessions through the LiveKit SDK.
func LiveKitConnector(creds room.Credentials, rooms room.RoomService, log *logger.Logger) Connector {
	return func(ctx context.Context, roomName, identity string) (Transport, error) {
		r, err := room.Connect(ctx, creds, roomName, identity, rooms, log.With(zap.String("room", roomName)))
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Settings tunes every session the agent runs.
type Settings struct {
	AgentName              string
	ParticipantWaitTimeout time.Duration
	TeardownOnConfirm      bool
	StrictPartIDs          bool
	Voice                  voice.Config
}

// Result is how a session ended.
type Result struct {
	Room    string
	JobID   string
	Outcome model.Outcome
	Err     error
}

const utteranceQueueSize = 16

// ErrSessionRunning is returned by Start when the room already has a session on this worker.
var ErrSessionRunning = errors.New("session already running for room")

// Agent starts sessions for dispatch jobs.
type Agent struct {
	settings Settings
	deps     *Prewarmed
	connect  Connector
	mirror   MirrorFactory
	tracker  *service.SessionTracker
	logger   *logger.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithMirror adds a per-room event mirror next to the room itself.
func WithMirror(f MirrorFactory) Option {
	return func(a *Agent) {
		a.mirror = f
	}
}

// WithTracker registers sessions with tracker.
func WithTracker(t *service.SessionTracker) Option {
	return func(a *Agent) {
		a.tracker = t
	}
}

// New creates an agent.
func New(settings Settings, deps *Prewarmed, connect Connector, log *logger.Logger, opts ...Option) *Agent {
	if log == nil {
		log = logger.NewNop()
	}
	a := &Agent{
		settings: settings,
		deps:     deps,
		connect:  connect,
		tracker:  service.NewSessionTracker(),
		logger:   log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tracker returns the tracker holding the agent's running sessions.
func (a *Agent) Tracker() *service.SessionTracker {
	return a.tracker
}

// Entrypoint runs the session for job to completion.
func (a *Agent) Entrypoint(ctx context.Context, job *model.DispatchJob) (model.Outcome, error) {
	results, err := a.Start(ctx, job)
	if err != nil {
		return model.OutcomeNone, err
	}
	res := <-results
	return res.Outcome, res.Err
}

// Start claims the job's room, connects to it and runs the session in the background.
// It returns once connected; the channel receives exactly one Result. ctx bounds the whole session.
func (a *Agent) Start(ctx context.Context, job *model.DispatchJob) (<-chan Result, error) {
	if a.connect == nil {
		return nil, dialog.ErrMissingTransport
	}
	if a.deps == nil || a.deps.LLM == nil {
		return nil, errors.New("agent is not prewarmed")
	}

	log := a.logger.ForSession(job.Room, job.ID)

	ctx, cancel := context.WithCancel(ctx)
	var ctrl atomic.Pointer[dialog.Controller]
	started := time.Now().UTC()
	unregister, ok := a.tracker.Claim(job.Room, service.SessionHandle{
		Cancel: cancel,
		Info: func() model.SessionInfo {
			if c := ctrl.Load(); c != nil {
				return c.Info()
			}
			return model.SessionInfo{Room: job.Room, JobID: job.ID, State: model.StateAwaitingConsent, StartedAt: started}
		},
	})
	if !ok {
		cancel()
		return nil, ErrSessionRunning
	}

	product, err := model.ProductFromMetadata(job.Metadata)
	if err != nil {
		log.Warn("using default product", zap.Error(err))
	}

	transport, err := a.connect(ctx, job.Room, agentIdentity(a.settings.AgentName, job.ID))
	if err != nil {
		unregister()
		cancel()
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	results := make(chan Result, 1)
	go func() {
		defer cancel()
		defer unregister()
		outcome, err := a.run(ctx, job, product, transport, &ctrl, log)
		results <- Result{Room: job.Room, JobID: job.ID, Outcome: outcome, Err: err}
	}()
	return results, nil
}

func (a *Agent) run(ctx context.Context, job *model.DispatchJob, product *model.Product, transport Transport, ctrl *atomic.Pointer[dialog.Controller], log *logger.Logger) (model.Outcome, error) {
	defer transport.Disconnect()

	if err := a.waitForParticipant(ctx, transport); err != nil {
		log.Warn("no participant joined", zap.Error(err))
		return model.OutcomeAbandoned, err
	}

	sinks := events.MultiSink{transport}
	if a.mirror != nil {
		if mirror := a.mirror(job.Room); mirror != nil {
			sinks = append(sinks, mirror)
		}
	}

	rt := voice.New(a.deps.LLM, transport, a.settings.Voice, log.Named("voice"))

	opts := []dialog.Option{
		dialog.WithTemplates(a.deps.Templates),
		dialog.WithPublisher(events.NewPublisher(sinks, log)),
		dialog.WithRoomCloser(transport),
		dialog.WithDataSource(transport),
		dialog.WithTeardownOnConfirm(a.settings.TeardownOnConfirm),
		dialog.WithStrictPartIDs(a.settings.StrictPartIDs),
		dialog.WithSession(job.Room, job.ID),
		dialog.WithLogger(log),
	}
	if a.deps.Snapshots != nil {
		opts = append(opts, dialog.WithSnapshotStore(a.deps.Snapshots))
	}
	session := dialog.New(rt, product, opts...)
	rt.Bind(session)
	ctrl.Store(session)

	go a.listen(ctx, transport, rt, log)

	metrics.SessionStarted()
	outcome, err := session.Run(ctx)

	metrics.SessionEnded(string(outcome))
	return outcome, err
}

func (a *Agent) waitForParticipant(ctx context.Context, transport Transport) error {
	if a.settings.ParticipantWaitTimeout <= 0 {
		return transport.WaitForParticipant(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, a.settings.ParticipantWaitTimeout)
	defer cancel()
	return transport.WaitForParticipant(waitCtx)
}

// listen feeds recognized user speech to the runtime in arrival order.
func (a *Agent) listen(ctx context.Context, transport Transport, rt *voice.Runtime, log *logger.Logger) {
	queue := make(chan string, utteranceQueueSize)
	transport.OnUtterance(func(pkt dialog.DataPacket) {
		select {
		case queue <- string(pkt.Payload):
		default:
			log.Warn("utterance dropped", zap.String("sender", pkt.Sender))
		}
	})
	defer transport.OnUtterance(nil)

	for {
		select {
		case text := <-queue:
			if err := rt.HandleUtterance(ctx, text); err != nil && ctx.Err() == nil {
				log.Warn("utterance not handled", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func agentIdentity(agentName, jobID string) string {
	if agentName == "" {
		agentName = "agent"
	}
	return agentName + "-" + jobID
}
