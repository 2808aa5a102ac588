// Package memstore is the default process-local result cache: an unbounded
// map split into shards so unrelated digests never share a lock.
package memstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
)

func init() {
	cache.Register("memory", func(_ context.Context, cfg config.Config, _ *slog.Logger) (cache.Interface, error) {
		return New(cfg.CacheShards), nil
	})
}

type shard struct {
	mu sync.RWMutex
	m  map[string]model.PlanResult
}

type Store struct {
	shards []*shard
}

var _ cache.Interface = (*Store)(nil)

func New(shards int) *Store {
	if shards <= 0 {
		shards = 32
	}
	s := &Store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[string]model.PlanResult)}
	}
	return s
}

func (s *Store) shardFor(digest string) *shard {
	return s.shards[xxhash.Sum64String(digest)%uint64(len(s.shards))]
}

// Get returns a copy; callers may mutate it freely.
func (s *Store) Get(_ context.Context, digest string) (model.PlanResult, bool, error) {
	start := time.Now()
	sh := s.shardFor(digest)
	sh.mu.RLock()
	res, ok := sh.m[digest]
	sh.mu.RUnlock()
	observability.ObserveCacheOp("memory", "get", nil, time.Since(start).Seconds())
	if !ok {
		return model.PlanResult{}, false, nil
	}
	return res.Clone(), true, nil
}

func (s *Store) Put(_ context.Context, digest string, res model.PlanResult) error {
	start := time.Now()
	v := res.Clone()
	sh := s.shardFor(digest)
	sh.mu.Lock()
	sh.m[digest] = v
	sh.mu.Unlock()
	observability.ObserveCacheOp("memory", "put", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Evict(_ context.Context, digest string) error {
	start := time.Now()
	sh := s.shardFor(digest)
	sh.mu.Lock()
	delete(sh.m, digest)
	sh.mu.Unlock()
	observability.ObserveCacheOp("memory", "evict", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
