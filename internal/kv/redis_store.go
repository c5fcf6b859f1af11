package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every record this service writes into Redis.
const KeyPrefix = "ops:"

// Store is a TTL key-value store backed by Redis. It is the only shared
// mutable resource in the system; drafts, jobs, progress and rollback records
// all live here and expire lazily.
type Store struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying Redis client for collaborators that need
// their own primitives (queue, rate limiter).
func (s *Store) Client() *redis.Client {
	return s.client
}

// Set stores value under key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, KeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Get loads the value under key. The second return is false when the key is
// absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, true, nil
}

// Claim atomically loads and deletes the value under key. Of N concurrent
// claimers against a present key, exactly one receives the value; the rest
// observe absent. An absent result is indistinguishable between never
// existed, expired, and already claimed.
func (s *Store) Claim(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := claimScript.Run(ctx, s.client, []string{KeyPrefix + key}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		// The script failed rather than returning absent. Re-check
		// presence: if the key is gone we lost the race (or it expired),
		// which is a clean "could not claim"; if it is still present the
		// store is misbehaving and the caller must not assume success.
		if _, present, checkErr := s.Get(ctx, key); checkErr == nil && !present {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv claim %s: %w", key, err)
	}
	str, ok := res.(string)
	if !ok {
		return nil, false, fmt.Errorf("kv claim %s: unexpected script result %T", key, res)
	}
	return []byte(str), true, nil
}

// Delete removes the value under key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

var claimScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return nil
end
redis.call('DEL', KEYS[1])
return v
`)
