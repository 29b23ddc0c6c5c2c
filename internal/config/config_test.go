package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.ServerPort != "8090" {
		t.Fatalf("ServerPort=%q, want 8090", cfg.ServerPort)
	}
	if cfg.LLMTemperature != 0.6 {
		t.Fatalf("LLMTemperature=%v, want 0.6", cfg.LLMTemperature)
	}
	if cfg.InitProcessTimeout != 500*time.Second {
		t.Fatalf("InitProcessTimeout=%v", cfg.InitProcessTimeout)
	}
	if cfg.RoomEmptyTimeout != time.Hour || cfg.RoomMaxParticipants != 5 || cfg.TokenTTL != time.Hour {
		t.Fatalf("room defaults: %v %d %v", cfg.RoomEmptyTimeout, cfg.RoomMaxParticipants, cfg.TokenTTL)
	}
	if cfg.TeardownOnConfirm || !cfg.StrictPartIDs {
		t.Fatalf("session defaults: teardown=%v strict=%v", cfg.TeardownOnConfirm, cfg.StrictPartIDs)
	}
	if cfg.SnapshotStore != "memory" {
		t.Fatalf("SnapshotStore=%q", cfg.SnapshotStore)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("INIT_PROCESS_TIMEOUT", "120")
	t.Setenv("PARTICIPANT_WAIT_TIMEOUT", "45s")
	t.Setenv("TEARDOWN_ON_CONFIRM", "true")
	t.Setenv("ROOM_MAX_PARTICIPANTS", "not-a-number")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg := Load()

	if cfg.ServerPort != "9000" {
		t.Fatalf("ServerPort=%q", cfg.ServerPort)
	}
	if cfg.LLMTemperature != 0.2 {
		t.Fatalf("LLMTemperature=%v", cfg.LLMTemperature)
	}
	if cfg.InitProcessTimeout != 120*time.Second {
		t.Fatalf("InitProcessTimeout=%v, want 2m", cfg.InitProcessTimeout)
	}
	if cfg.ParticipantWaitTimeout != 45*time.Second {
		t.Fatalf("ParticipantWaitTimeout=%v", cfg.ParticipantWaitTimeout)
	}
	if !cfg.TeardownOnConfirm {
		t.Fatalf("TeardownOnConfirm=false")
	}
	if cfg.RoomMaxParticipants != 5 {
		t.Fatalf("invalid int should keep default, got %d", cfg.RoomMaxParticipants)
	}
	if cfg.LLMAPIKey() != "sk-ant" {
		t.Fatalf("LLMAPIKey=%q", cfg.LLMAPIKey())
	}
}
