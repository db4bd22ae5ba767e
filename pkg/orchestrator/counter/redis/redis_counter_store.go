// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/tls"
)

// Store keeps the swap counters in redis, so that workers of several
// processes share them. Mutations run under a lock held with SET NX and
// released only by its owner.
type Store struct {
	client    redislib.UniversalClient
	keyPrefix string
	lockTTL   time.Duration
	lockWait  time.Duration
}

type Config struct {
	URL string `mapstructure:"url" yaml:"url"`
	// KeyPrefix namespaces the keys of the store.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
	// LockTTL bounds how long a crashed holder keeps the lock.
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	// LockWait is how long to wait for the lock before giving up.
	LockWait time.Duration `mapstructure:"lock_wait" yaml:"lock_wait"`
	// TLS is applied on top of the url scheme, rediss:// urls use the system
	// certificate pool.
	TLS tls.Config `mapstructure:"tls" yaml:"tls"`
}

const (
	defaultKeyPrefix = "searchsync:"
	defaultLockTTL   = 10 * time.Second
	defaultLockWait  = 30 * time.Second
	lockRetryDelay   = 10 * time.Millisecond
)

var _ orchestrator.CounterStore = (*Store)(nil)

// releaseScript deletes the lock only when it still holds the token of the
// caller.
var releaseScript = redislib.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func New(cfg *Config) (*Store, error) {
	opts, err := redislib.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	tlsCfg, err := tls.NewConfig(&cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("building redis tls config: %w", err)
	}
	if tlsCfg != nil {
		opts.TLSConfig = tlsCfg
	}
	return NewWithClient(redislib.NewClient(opts), cfg), nil
}

func NewWithClient(client redislib.UniversalClient, cfg *Config) *Store {
	s := &Store{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		lockTTL:   defaultLockTTL,
		lockWait:  defaultLockWait,
	}
	if cfg.KeyPrefix != "" {
		s.keyPrefix = cfg.KeyPrefix
	}
	if cfg.LockTTL > 0 {
		s.lockTTL = cfg.LockTTL
	}
	if cfg.LockWait > 0 {
		s.lockWait = cfg.LockWait
	}
	return s
}

func (s *Store) Create(ctx context.Context, key string, c orchestrator.SwapCounter) error {
	return s.withLock(ctx, key, func() error {
		exists, err := s.client.Exists(ctx, s.counterKey(key)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", orchestrator.ErrRefreshInProgress, key)
		}
		return s.set(ctx, key, c)
	})
}

func (s *Store) Decrement(ctx context.Context, key, runID string) (orchestrator.SwapCounter, bool, error) {
	var (
		counter     orchestrator.SwapCounter
		reachedZero bool
	)
	err := s.withLock(ctx, key, func() error {
		c, found, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", orchestrator.ErrCounterNotFound, key)
		}
		if c.RunID != runID {
			return fmt.Errorf("%w: %s is counting run %s, not %s", orchestrator.ErrStaleRun, key, c.RunID, runID)
		}
		c.Remaining--
		counter = c
		if c.Remaining <= 0 {
			reachedZero = true
			return s.client.Del(ctx, s.counterKey(key)).Err()
		}
		return s.set(ctx, key, c)
	})
	return counter, reachedZero, err
}

func (s *Store) Restore(ctx context.Context, key string, c orchestrator.SwapCounter) error {
	return s.withLock(ctx, key, func() error {
		return s.set(ctx, key, c)
	})
}

func (s *Store) Get(ctx context.Context, key string) (orchestrator.SwapCounter, bool, error) {
	raw, err := s.client.Get(ctx, s.counterKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return orchestrator.SwapCounter{}, false, nil
		}
		return orchestrator.SwapCounter{}, false, fmt.Errorf("reading swap counter %s: %w", key, err)
	}
	c := orchestrator.SwapCounter{}
	if err := json.Unmarshal(raw, &c); err != nil {
		return orchestrator.SwapCounter{}, false, fmt.Errorf("decoding swap counter %s: %w", key, err)
	}
	return c, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, key, func() error {
		return s.client.Del(ctx, s.counterKey(key)).Err()
	})
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) set(ctx context.Context, key string, c orchestrator.SwapCounter) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.counterKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("writing swap counter %s: %w", key, err)
	}
	return nil
}

func (s *Store) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Store) lock(ctx context.Context, key string) (func(), error) {
	lockKey := s.lockKey(key)
	token := uuid.NewString()
	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()

	for {
		acquired, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", orchestrator.ErrLockUnavailable, key, err)
		}
		if acquired {
			return func() {
				// the lock expires on its own if the release fails
				_ = releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", orchestrator.ErrLockUnavailable, key, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s: timed out after %s", orchestrator.ErrLockUnavailable, key, s.lockWait)
		case <-time.After(lockRetryDelay):
		}
	}
}

func (s *Store) counterKey(key string) string {
	return s.keyPrefix + "swap_counter:" + key
}

func (s *Store) lockKey(key string) string {
	return s.keyPrefix + "swap_counter_lock:" + key
}
