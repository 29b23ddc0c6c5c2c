// Package snapshot keeps the live configuration document of each room so observers
// that join late can catch up.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

// Common errors for snapshot store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrVersionConflict  = errors.New("snapshot version conflict")
	ErrNotFound         = errors.New("snapshot not found")
)

// Store defines the interface for snapshot storage operations.
type Store interface {
	// Save stores snap unless a snapshot with the same or a newer Version is stored,
	// in which case ErrVersionConflict is returned.
	Save(ctx context.Context, snap *model.Snapshot) error

	// Get retrieves the snapshot of a room. Returns ErrNotFound if absent.
	Get(ctx context.Context, room string) (*model.Snapshot, error)

	// Delete deletes the snapshot of a room.
	Delete(ctx context.Context, room string) error

	// Close closes the store and releases any resources.
	Close() error
}

// StoreType represents the type of snapshot store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

const defaultTTL = 2 * time.Hour

// NewStore creates a Store of the given type.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	ttl := config.ttl
	if ttl <= 0 {
		ttl = defaultTTL
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(config.redisClient, ttl), nil

	default:
		return nil, ErrInvalidStoreType
	}
}

// Open builds a store from settings. For redis, redisURL is parsed and the server is pinged.
func Open(ctx context.Context, storeType StoreType, redisURL string, ttl time.Duration) (Store, error) {
	if storeType != StoreTypeRedis {
		return NewStore(storeType)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", ErrInvalidConfig, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return NewStore(StoreTypeRedis, WithRedisClient(client), WithTTL(ttl))
}
