package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	natsclient "github.com/capitalize-ai/voice-configurator/internal/nats"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

// JobSource delivers dispatch jobs addressed to an agent.
type JobSource interface {
	ConsumeDispatch(ctx context.Context, agentName string, handler natsclient.JobHandler) error
}

// Worker turns dispatch jobs into sessions.
type Worker struct {
	agent  *Agent
	source JobSource
	logger *logger.Logger
}

// NewWorker creates a worker.
func NewWorker(agent *Agent, source JobSource, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		agent:  agent,
		source: source,
		logger: log,
	}
}

// Run consumes jobs until ctx is done. Running sessions outlive ctx; stop them through the tracker.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("waiting for dispatch jobs", zap.String("agent_name", w.agent.settings.AgentName))
	return w.source.ConsumeDispatch(ctx, w.agent.settings.AgentName, w.handle)
}

// handle starts the job's session. It returns once the session is connected so the job is
// acknowledged only after the session has started.
func (w *Worker) handle(ctx context.Context, job *model.DispatchJob) error {
	log := w.logger.ForSession(job.Room, job.ID)

	results, err := w.agent.Start(context.WithoutCancel(ctx), job)
	if errors.Is(err, ErrSessionRunning) {
		log.Info("session already running, skipping job")
		return nil
	}
	if err != nil {
		log.Error("session failed to start", zap.Error(err))
		return err
	}

	start := time.Now()
	go func() {
		res := <-results
		fields := []zap.Field{
			zap.String("outcome", string(res.Outcome)),
			zap.Duration("duration", time.Since(start)),
		}
		if res.Err != nil {
			log.Warn("session finished with error", append(fields, zap.Error(res.Err))...)
			return
		}
		log.Info("session finished", fields...)
	}()
	return nil
}
