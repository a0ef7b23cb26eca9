// Package cache decorates the outcome store with Redis read-aside caching.
// Job outcomes are immutable once saved, which makes them ideal cache
// entries: dashboards polling finished jobs never need to hit Firestore.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedOutcomeStore is a decorator that adds read-aside caching to any
// OutcomeStore.
type CachedOutcomeStore struct {
	realStore notify.OutcomeStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedOutcomeStore(realStore notify.OutcomeStore, cache CacheClient, ttl time.Duration) *CachedOutcomeStore {
	return &CachedOutcomeStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// SaveJobOutcome writes through: the durable store is the transaction, the
// cache fill is an optimization whose failure is ignored.
func (s *CachedOutcomeStore) SaveJobOutcome(ctx context.Context, outcome *notify.JobOutcome) error {
	if err := s.realStore.SaveJobOutcome(ctx, outcome); err != nil {
		return err
	}
	_ = s.cache.Set(ctx, s.cacheKey(outcome.JobID), outcome, s.ttl)
	return nil
}

func (s *CachedOutcomeStore) GetJobOutcome(ctx context.Context, jobID string) (*notify.JobOutcome, error) {
	key := s.cacheKey(jobID)

	var cached notify.JobOutcome
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	// Miss or cache failure: fall back to the source of truth.
	fresh, err := s.realStore.GetJobOutcome(ctx, jobID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedOutcomeStore) cacheKey(jobID string) string {
	return fmt.Sprintf("fleetnotify:outcome:%s", jobID)
}
