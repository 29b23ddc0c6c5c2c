package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/capitalize-ai/voice-configurator/internal/config"
	"github.com/capitalize-ai/voice-configurator/internal/snapshot"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

func TestPrewarm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("assistant: Be brief.\n"), 0o600); err != nil {
		t.Fatalf("write prompts: %v", err)
	}

	cfg := &config.Config{
		LLMProvider:        "openai",
		OpenAIAPIKey:       "test",
		PromptsFile:        path,
		SnapshotStore:      string(snapshot.StoreTypeMemory),
		SnapshotTTL:        time.Hour,
		InitProcessTimeout: time.Second,
	}

	deps, err := Prewarm(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	defer deps.Close()

	if deps.LLM.Name() != "openai" {
		t.Fatalf("llm=%q", deps.LLM.Name())
	}
	if deps.Templates.Assistant != "Be brief." {
		t.Fatalf("assistant=%q", deps.Templates.Assistant)
	}
	if deps.Templates.Consent == "" {
		t.Fatal("defaults should fill templates missing from the file")
	}
	if _, ok := deps.Snapshots.(*snapshot.MemoryStore); !ok {
		t.Fatalf("snapshots=%T", deps.Snapshots)
	}
}

func TestPrewarm_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"missing key", config.Config{LLMProvider: "anthropic", OpenAIAPIKey: "test"}},
		{"missing prompts", config.Config{OpenAIAPIKey: "test", PromptsFile: "/does/not/exist.yaml"}},
		{"bad store", config.Config{OpenAIAPIKey: "test", SnapshotStore: "etcd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := Prewarm(context.Background(), &cfg, logger.NewNop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPrewarmed_CloseNil(t *testing.T) {
	var p *Prewarmed
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
