// Package config provides environment configuration for the API server and agent worker.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	AgentPort          string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// LiveKit settings
	LiveKitURL          string
	LiveKitAPIKey       string
	LiveKitAPISecret    string
	AgentName           string
	RoomEmptyTimeout    time.Duration
	RoomMaxParticipants int
	TokenTTL            time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Snapshot store
	SnapshotStore string
	RedisURL      string
	SnapshotTTL   time.Duration

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	LLMModel        string
	LLMTemperature  float64
	LLMMaxTokens    int
	MaxToolRounds   int
	ForceToolChoice bool

	// Session behavior
	PromptsFile            string
	TeardownOnConfirm      bool
	StrictPartIDs          bool
	InitProcessTimeout     time.Duration
	ParticipantWaitTimeout time.Duration
	ShutdownTimeout        time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel    string
	Environment string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8090"),
		AgentPort:          getEnv("AGENT_PORT", "8091"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// LiveKit
		LiveKitURL:          getEnv("LIVEKIT_URL", "ws://localhost:7880"),
		LiveKitAPIKey:       getEnv("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret:    getEnv("LIVEKIT_API_SECRET", ""),
		AgentName:           getEnv("AGENT_NAME", "product-configurator"),
		RoomEmptyTimeout:    getDurationEnv("ROOM_EMPTY_TIMEOUT", 3600*time.Second),
		RoomMaxParticipants: getIntEnv("ROOM_MAX_PARTICIPANTS", 5),
		TokenTTL:            getDurationEnv("TOKEN_TTL", time.Hour),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Snapshots
		SnapshotStore: getEnv("SNAPSHOT_STORE", "memory"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SnapshotTTL:   getDurationEnv("SNAPSHOT_TTL", 2*time.Hour),

		// JWT
		JWTSecret: getEnv("API_JWT_SECRET", ""),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMTemperature:  getFloatEnv("LLM_TEMPERATURE", 0.6),
		LLMMaxTokens:    getIntEnv("LLM_MAX_TOKENS", 1024),
		MaxToolRounds:   getIntEnv("LLM_MAX_TOOL_ROUNDS", 4),
		ForceToolChoice: getBoolEnv("LLM_FORCE_TOOL_CHOICE", false),

		// Session
		PromptsFile:            getEnv("PROMPTS_FILE", ""),
		TeardownOnConfirm:      getBoolEnv("TEARDOWN_ON_CONFIRM", false),
		StrictPartIDs:          getBoolEnv("STRICT_PART_IDS", true),
		InitProcessTimeout:     getDurationEnv("INIT_PROCESS_TIMEOUT", 500*time.Second),
		ParticipantWaitTimeout: getDurationEnv("PARTICIPANT_WAIT_TIMEOUT", 5*time.Minute),
		ShutdownTimeout:        getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("ENV", "production"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LLMAPIKey returns the API key of the configured provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") and bare seconds ("500").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if s, err := strconv.Atoi(value); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return defaultValue
}
