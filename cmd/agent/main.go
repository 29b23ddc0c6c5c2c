// Package main is the entry point for the voice configuration agent worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/agent"
	"github.com/capitalize-ai/voice-configurator/internal/config"
	"github.com/capitalize-ai/voice-configurator/internal/events"
	"github.com/capitalize-ai/voice-configurator/internal/model"
	natsclient "github.com/capitalize-ai/voice-configurator/internal/nats"
	"github.com/capitalize-ai/voice-configurator/internal/room"
	"github.com/capitalize-ai/voice-configurator/internal/voice"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/tracing"
)

func main() {
	roomName := flag.String("room", "", "run a single session in this room instead of consuming dispatch jobs")
	metadata := flag.String("metadata", "", "product metadata JSON for -room")
	flag.Parse()

	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "voice-configurator-agent", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	deps, err := agent.Prewarm(ctx, cfg, log)
	if err != nil {
		log.Fatal("prewarm failed", zap.Error(err))
	}
	defer deps.Close()

	creds := room.Credentials{URL: cfg.LiveKitURL, APIKey: cfg.LiveKitAPIKey, APISecret: cfg.LiveKitAPISecret}
	settings := agent.Settings{
		AgentName:              cfg.AgentName,
		ParticipantWaitTimeout: cfg.ParticipantWaitTimeout,
		TeardownOnConfirm:      cfg.TeardownOnConfirm,
		StrictPartIDs:          cfg.StrictPartIDs,
		Voice: voice.Config{
			Model:           cfg.LLMModel,
			Temperature:     cfg.LLMTemperature,
			MaxTokens:       cfg.LLMMaxTokens,
			MaxToolRounds:   cfg.MaxToolRounds,
			ForceToolChoice: cfg.ForceToolChoice,
		},
	}
	connector := agent.LiveKitConnector(creds, room.NewRoomService(creds), log.Named("room"))

	if *roomName != "" {
		runDirect(ctx, settings, deps, connector, *roomName, *metadata, log)
		return
	}

	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "voice-configurator-agent",
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStreams(ctx); err != nil {
		log.Fatal("failed to ensure streams", zap.Error(err))
	}

	a := agent.New(settings, deps, connector, log,
		agent.WithMirror(func(roomName string) events.Sink {
			return natsclient.NewEventSink(streamManager, roomName)
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.AgentPort,
		Handler:      agent.NewRouter(a.Tracker(), natsClient.IsConnected),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}
	go func() {
		log.Info("agent server listening", zap.String("port", cfg.AgentPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("agent server error", zap.Error(err))
		}
	}()

	if err := agent.NewWorker(a, streamManager, log).Run(ctx); err != nil {
		log.Error("worker stopped", zap.Error(err))
	}

	log.Info("shutting down agent", zap.Int("active_sessions", a.Tracker().Count()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Let running sessions finish, then abandon the rest.
	if !a.Tracker().Wait(shutdownCtx) {
		cancelled := a.Tracker().CancelAll()
		log.Warn("abandoning sessions", zap.Int("sessions", cancelled))
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.Tracker().Wait(waitCtx)
		waitCancel()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("agent server forced to shutdown", zap.Error(err))
	}

	log.Info("agent stopped")
}

func runDirect(ctx context.Context, settings agent.Settings, deps *agent.Prewarmed, connector agent.Connector, roomName, metadata string, log *logger.Logger) {
	a := agent.New(settings, deps, connector, log)
	job := &model.DispatchJob{
		ID:        uuid.NewString(),
		Room:      roomName,
		AgentName: settings.AgentName,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	outcome, err := a.Entrypoint(ctx, job)
	if err != nil {
		log.Error("session failed", zap.String("room", roomName), zap.Error(err))
		return
	}
	log.Info("session finished", zap.String("room", roomName), zap.String("outcome", string(outcome)))
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Environment == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}
