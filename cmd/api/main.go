// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/config"
	"github.com/capitalize-ai/voice-configurator/internal/handler"
	"github.com/capitalize-ai/voice-configurator/internal/middleware"
	natsclient "github.com/capitalize-ai/voice-configurator/internal/nats"
	"github.com/capitalize-ai/voice-configurator/internal/room"
	"github.com/capitalize-ai/voice-configurator/internal/service"
	"github.com/capitalize-ai/voice-configurator/internal/snapshot"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/tracing"
)

func main() {
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

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "voice-configurator-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "voice-configurator-api",
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStreams(ctx); err != nil {
		log.Fatal("failed to ensure streams", zap.Error(err))
	}

	snapshots, err := snapshot.Open(ctx, snapshot.StoreType(cfg.SnapshotStore), cfg.RedisURL, cfg.SnapshotTTL)
	if err != nil {
		log.Fatal("failed to open snapshot store", zap.Error(err))
	}
	defer snapshots.Close()

	creds := room.Credentials{URL: cfg.LiveKitURL, APIKey: cfg.LiveKitAPIKey, APISecret: cfg.LiveKitAPISecret}
	provisioner := room.NewProvisioner(room.NewRoomService(creds), cfg.RoomEmptyTimeout, cfg.RoomMaxParticipants)
	tokens := room.NewTokenIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.TokenTTL)

	dispatchSvc := service.NewDispatchService(provisioner, tokens, streamManager, snapshots, service.DispatchConfig{
		LiveKitURL: cfg.LiveKitURL,
		AgentName:  cfg.AgentName,
	}, log.Named("dispatch"))

	healthHandler := handler.NewHealthHandler(natsClient)
	dispatchHandler := handler.NewDispatchHandler(dispatchSvc, log)
	eventsHandler := handler.NewEventsHandler(streamManager, dispatchSvc, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/join", dispatchHandler.Join)
		r.Get("/agents", dispatchHandler.ListAgents)

		r.Route("/rooms/{room}", func(r chi.Router) {
			r.Get("/configuration", dispatchHandler.Configuration)
			r.Get("/events", eventsHandler.Stream)
		})
	})

	// Event streams stay open, so no write timeout.
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		ReadTimeout: cfg.ServerReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Environment == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}
