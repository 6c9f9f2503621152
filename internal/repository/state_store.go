package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/internal/domain/repository"
	"AlphaBlend/pkg/cache"
)

const (
	allocatorStateKey = "allocator:state"
	allocatorLockKey  = "allocator:state:lock"
)

// CacheStateStore keeps the latest allocator snapshot in a cache.Service
// (Redis in production, memory when Redis is disabled).
type CacheStateStore struct {
	cache   cache.Service
	ttl     time.Duration
	lockTTL time.Duration
}

// NewCacheStateStore builds the store. ttl <= 0 keeps snapshots forever.
func NewCacheStateStore(c cache.Service, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{cache: c, ttl: ttl, lockTTL: 10 * time.Second}
}

// Save writes the snapshot. Concurrent writers (several replicas sharing a
// Redis) are serialized by a short lock; a writer that loses the race skips.
func (s *CacheStateStore) Save(ctx context.Context, state *models.MetaAllocatorState) error {
	if state == nil {
		return nil
	}
	ok, err := s.cache.TryLock(ctx, allocatorLockKey, s.lockTTL)
	if err != nil {
		return fmt.Errorf("lock allocator state: %w", err)
	}
	if !ok {
		return nil
	}
	defer func() { _ = s.cache.Unlock(context.WithoutCancel(ctx), allocatorLockKey) }()

	if err := s.cache.Set(ctx, allocatorStateKey, state, s.ttl); err != nil {
		return fmt.Errorf("save allocator state: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *CacheStateStore) Load(ctx context.Context) (*models.MetaAllocatorState, error) {
	var st models.MetaAllocatorState
	if err := s.cache.Get(ctx, allocatorStateKey, &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load allocator state: %w", err)
	}
	return &st, nil
}

var _ repository.StateStore = (*CacheStateStore)(nil)
