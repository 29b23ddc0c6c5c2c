// Package service provides business logic for the voice configuration platform.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/snapshot"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/metrics"
)

// ErrNoConfiguration is returned when a room has no live configuration.
var ErrNoConfiguration = errors.New("configuration not found")

// RoomEnsurer creates rooms on the media server and removes rooms that never got an agent.
type RoomEnsurer interface {
	EnsureRoom(ctx context.Context, name, metadata string) (*livekit.Room, error)
	Delete(ctx context.Context, name string) error
}

// TokenMinter issues participant access tokens.
type TokenMinter interface {
	ParticipantToken(roomName, identity string) (string, error)
}

// JobQueue carries dispatch jobs to agent workers.
type JobQueue interface {
	PublishDispatch(ctx context.Context, job *model.DispatchJob) (uint64, error)
	DispatchHistory(ctx context.Context, room string, limit int) ([]model.DispatchJob, error)
}

// DispatchConfig holds the static settings of the dispatch service.
type DispatchConfig struct {
	LiveKitURL   string
	AgentName    string
	HistoryLimit int
}

// DispatchService prepares rooms and hands them to agent workers.
type DispatchService struct {
	rooms     RoomEnsurer
	tokens    TokenMinter
	jobs      JobQueue
	snapshots snapshot.Store
	cfg       DispatchConfig
	logger    *logger.Logger

	// Dispatches created by this process, consulted before the job stream.
	dispatches map[string][]model.DispatchJob
	mu         sync.RWMutex
}

// NewDispatchService creates a new dispatch service. jobs and snapshots may be nil.
func NewDispatchService(
	rooms RoomEnsurer,
	tokens TokenMinter,
	jobs JobQueue,
	snapshots snapshot.Store,
	cfg DispatchConfig,
	log *logger.Logger,
) *DispatchService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &DispatchService{
		rooms:      rooms,
		tokens:     tokens,
		jobs:       jobs,
		snapshots:  snapshots,
		cfg:        cfg,
		logger:     log,
		dispatches: make(map[string][]model.DispatchJob),
	}
}

// Join creates a fresh room, a token for a new user, and a dispatch job carrying the product metadata.
func (s *DispatchService) Join(ctx context.Context, req *model.JoinRequest) (*model.JoinResponse, error) {
	roomName := "room-" + uuid.NewString()
	identity := "user-" + uuid.NewString()

	if _, err := s.rooms.EnsureRoom(ctx, roomName, ""); err != nil {
		return nil, err
	}

	token, err := s.tokens.ParticipantToken(roomName, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}

	job := model.DispatchJob{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Room:      roomName,
		AgentName: s.cfg.AgentName,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}

	if s.jobs != nil {
		if _, err := s.jobs.PublishDispatch(ctx, &job); err != nil {
			metrics.DispatchesTotal.WithLabelValues("error").Inc()
			s.discardRoom(roomName)
			return nil, fmt.Errorf("failed to dispatch agent: %w", err)
		}
	}
	metrics.DispatchesTotal.WithLabelValues("success").Inc()

	s.mu.Lock()
	s.dispatches[roomName] = append(s.dispatches[roomName], job)
	s.mu.Unlock()

	s.logger.Info("room dispatched",
		zap.String("room", roomName),
		zap.String("identity", identity),
		zap.String("job_id", job.ID),
		zap.String("agent_name", job.AgentName),
	)

	return &model.JoinResponse{
		Token:      token,
		LiveKitURL: s.cfg.LiveKitURL,
		RoomName:   roomName,
	}, nil
}

// discardRoom removes a room nobody will configure. The request context may already be done.
func (s *DispatchService) discardRoom(roomName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.rooms.Delete(ctx, roomName); err != nil {
		s.logger.Warn("failed to remove undispatched room", zap.String("room", roomName), zap.Error(err))
	}
}

// ListDispatches returns the dispatch jobs recorded for room.
func (s *DispatchService) ListDispatches(ctx context.Context, room string) (*model.ListDispatchesResponse, error) {
	s.mu.RLock()
	local := append([]model.DispatchJob(nil), s.dispatches[room]...)
	s.mu.RUnlock()

	jobs := local
	if len(local) == 0 && s.jobs != nil {
		history, err := s.jobs.DispatchHistory(ctx, room, s.cfg.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list dispatches: %w", err)
		}
		jobs = history
	}
	if jobs == nil {
		jobs = []model.DispatchJob{}
	}

	s.logger.Debug("dispatches listed", zap.String("room", room), zap.Int("total", len(jobs)))

	return &model.ListDispatchesResponse{
		Room:       room,
		Dispatches: jobs,
		Total:      len(jobs),
	}, nil
}

// Configuration returns the live configuration snapshot of room.
func (s *DispatchService) Configuration(ctx context.Context, room string) (*model.Snapshot, error) {
	if s.snapshots == nil {
		return nil, ErrNoConfiguration
	}

	snap, err := s.snapshots.Get(ctx, room)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, ErrNoConfiguration
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return snap, nil
}
