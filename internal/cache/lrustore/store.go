// Package lrustore is a size-bounded result cache that drops the least
// recently used plan when full.
package lrustore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
)

func init() {
	cache.Register("lru", func(_ context.Context, cfg config.Config, _ *slog.Logger) (cache.Interface, error) {
		return New(cfg.CacheLRUSize)
	})
}

type Store struct {
	c *lru.Cache[string, model.PlanResult]
}

var _ cache.Interface = (*Store)(nil)

func New(size int) (*Store, error) {
	c, err := lru.New[string, model.PlanResult](size)
	if err != nil {
		return nil, fmt.Errorf("lru cache of size %d: %w", size, err)
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, digest string) (model.PlanResult, bool, error) {
	start := time.Now()
	res, ok := s.c.Get(digest)
	observability.ObserveCacheOp("lru", "get", nil, time.Since(start).Seconds())
	if !ok {
		return model.PlanResult{}, false, nil
	}
	return res.Clone(), true, nil
}

func (s *Store) Put(_ context.Context, digest string, res model.PlanResult) error {
	start := time.Now()
	s.c.Add(digest, res.Clone())
	observability.ObserveCacheOp("lru", "put", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Evict(_ context.Context, digest string) error {
	start := time.Now()
	s.c.Remove(digest)
	observability.ObserveCacheOp("lru", "evict", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Len() int { return s.c.Len() }
