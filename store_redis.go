package leadguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisGuardDoc is the wire form of one identity's guard state.
type redisGuardDoc struct {
	Window  []time.Time    `json:"window"`
	Lockout *LockoutRecord `json:"lockout,omitempty"`
}

// RedisGuardStore keeps guard state in Redis so multiple instances can
// share rate limit and lockout decisions. Idle entries expire server
// side, so SweepIdle is a no-op here.
type RedisGuardStore struct {
	client  *redis.Client
	prefix  string
	idleTTL time.Duration
	timeout time.Duration
}

type RedisGuardOption func(*RedisGuardStore)

// WithRedisPrefix overrides the key namespace (default "leadguard:guard:").
func WithRedisPrefix(prefix string) RedisGuardOption {
	return func(s *RedisGuardStore) { s.prefix = prefix }
}

// WithRedisIdleTTL overrides how long untouched entries live in Redis.
func WithRedisIdleTTL(ttl time.Duration) RedisGuardOption {
	return func(s *RedisGuardStore) { s.idleTTL = ttl }
}

func NewRedisGuardStore(client *redis.Client, opts ...RedisGuardOption) *RedisGuardStore {
	s := &RedisGuardStore{
		client:  client,
		prefix:  "leadguard:guard:",
		idleTTL: 30 * time.Minute,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisGuardStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisGuardStore) Snapshot(id string) ([]time.Time, *LockoutRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read guard state: %w", err)
	}
	var doc redisGuardDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode guard state: %w", err)
	}
	return doc.Window, doc.Lockout, nil
}

func (s *RedisGuardStore) Commit(id string, window []time.Time, lockout *LockoutRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if len(window) == 0 && lockout == nil {
		if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
			return fmt.Errorf("clear guard state: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(redisGuardDoc{Window: window, Lockout: lockout})
	if err != nil {
		return fmt.Errorf("encode guard state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), raw, s.idleTTL).Err(); err != nil {
		return fmt.Errorf("write guard state: %w", err)
	}
	return nil
}

func (s *RedisGuardStore) Forget(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("forget guard state: %w", err)
	}
	return nil
}

// SweepIdle is handled by per-key TTLs in Redis.
func (s *RedisGuardStore) SweepIdle(cutoff time.Time) (int, error) {
	return 0, nil
}

func (s *RedisGuardStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
