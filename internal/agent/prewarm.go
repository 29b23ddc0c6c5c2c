// Package agent runs voice configuration sessions for dispatched rooms.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/config"
	"github.com/capitalize-ai/voice-configurator/internal/llm"
	"github.com/capitalize-ai/voice-configurator/internal/prompts"
	"github.com/capitalize-ai/voice-configurator/internal/snapshot"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

// Prewarmed holds the process-wide resources shared by every session.
type Prewarmed struct {
	LLM       llm.Client
	Templates prompts.Templates
	Snapshots snapshot.Store
}

// Close releases the prewarmed resources.
func (p *Prewarmed) Close() error {
	if p == nil || p.Snapshots == nil {
		return nil
	}
	return p.Snapshots.Close()
}

// Prewarm loads the shared resources within cfg.InitProcessTimeout.
func Prewarm(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Prewarmed, error) {
	timeout := cfg.InitProcessTimeout
	if timeout <= 0 {
		timeout = 500 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	client, err := llm.NewClient(llm.Provider(cfg.LLMProvider), cfg.LLMAPIKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	templates, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	store, err := snapshot.Open(ctx, snapshot.StoreType(cfg.SnapshotStore), cfg.RedisURL, cfg.SnapshotTTL)
	if err != nil {
		return nil, err
	}

	log.Info("agent prewarmed",
		zap.String("llm", client.Name()),
		zap.String("snapshot_store", cfg.SnapshotStore),
		zap.Duration("took", time.Since(start)),
	)

	return &Prewarmed{
		LLM:       client,
		Templates: templates,
		Snapshots: store,
	}, nil
}
