package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
)

const keyPrefix = "plan:"

func init() {
	cache.Register(backend, func(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.Interface, error) {
		c, err := New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		logger.Info("redis cache connected", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		return NewStore(c, cfg.CacheTTL, cfg.CacheOpTimeout), nil
	})
}

// Store implements cache.Interface on top of Client. Results are stored as
// their JSON wire form under "plan:<digest>".
type Store struct {
	c         *Client
	ttl       time.Duration
	opTimeout time.Duration
}

var _ cache.Interface = (*Store)(nil)

// NewStore returns a Store. ttl 0 keeps entries until evicted; opTimeout 0
// leaves deadlines to the caller.
func NewStore(c *Client, ttl, opTimeout time.Duration) *Store {
	return &Store{c: c, ttl: ttl, opTimeout: opTimeout}
}

func Key(digest string) string { return keyPrefix + digest }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, digest string) (model.PlanResult, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, ok, err := s.c.Get(ctx, Key(digest))
	if err != nil || !ok {
		return model.PlanResult{}, false, err
	}
	var res model.PlanResult
	if err := json.Unmarshal(b, &res); err != nil {
		return model.PlanResult{}, false, fmt.Errorf("decode cached plan %s: %w", digest, err)
	}
	return res, true, nil
}

func (s *Store) Put(ctx context.Context, digest string, res model.PlanResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", digest, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.c.Set(ctx, Key(digest), b, s.ttl)
}

func (s *Store) Evict(ctx context.Context, digest string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.c.Del(ctx, Key(digest))
}

func (s *Store) Close() error { return s.c.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.c.Ping(ctx)
}
