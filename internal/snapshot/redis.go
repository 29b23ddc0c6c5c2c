package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

const keyPrefix = "voice:snapshot:"

// RedisStore implements Store using Redis with optimistic locking.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-based snapshot store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Save implements Store.
// Uses WATCH/MULTI/EXEC so a stale version never overwrites a newer one.
func (s *RedisStore) Save(ctx context.Context, snap *model.Snapshot) error {
	key := s.key(snap.Room)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if err == nil {
			var stored model.Snapshot
			if err := json.Unmarshal(val, &stored); err != nil {
				return err
			}
			if stored.Version >= snap.Version {
				return ErrVersionConflict
			}
		}

		newVal, err := json.Marshal(snap)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, room string) (*model.Snapshot, error) {
	val, err := s.client.Get(ctx, s.key(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap model.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, room string) error {
	return s.client.Del(ctx, s.key(room)).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(room string) string {
	return keyPrefix + room
}
