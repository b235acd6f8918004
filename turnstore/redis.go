package turnstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTLHours is the default retention for conversation turn logs.
const defaultTTLHours = 24

// RedisStore provides a Redis-backed implementation of the Store interface.
// Turns are stored as a JSON list per conversation (RPUSH preserves append
// order) with automatic TTL-based cleanup. This implementation is suitable
// for distributed systems and production deployments.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for conversation turn logs.
// After this duration, conversations will be automatically deleted.
// Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "voicewire".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed turn store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	    WithPrefix("myapp"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour, // Default TTL
		prefix: "voicewire",                 // Default prefix
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Append appends a turn to the conversation's log using RPUSH.
// Uses a pipeline to batch the RPUSH and EXPIRE into a single round-trip.
func (s *RedisStore) Append(ctx context.Context, conversationID string, turn Turn) error {
	if conversationID == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(&turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := s.turnsKey(conversationID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// List returns all turns for the conversation in append order.
func (s *RedisStore) List(ctx context.Context, conversationID string) ([]Turn, error) {
	if conversationID == "" {
		return nil, ErrInvalidID
	}

	key := s.turnsKey(conversationID)
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var turn Turn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}

	return turns, nil
}

// Count returns the number of turns in the conversation.
func (s *RedisStore) Count(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, ErrInvalidID
	}

	count, err := s.client.LLen(ctx, s.turnsKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	if count == 0 {
		return 0, ErrNotFound
	}

	return int(count), nil
}

// Delete removes the conversation and all its turns.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidID
	}

	deleted, err := s.client.Del(ctx, s.turnsKey(conversationID)).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}

	return nil
}

// turnsKey generates the Redis key for a conversation's turn log.
func (s *RedisStore) turnsKey(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:turns", s.prefix, conversationID)
}
