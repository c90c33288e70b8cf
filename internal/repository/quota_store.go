package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "SignalPulse/internal/domain/repository"
	"SignalPulse/pkg/cache"
)

// quotaRetention keeps a month's counter a little past the month end so a restart on the
// first of the month can still log the previous value.
const quotaRetention = 40 * 24 * time.Hour

// CacheQuotaStore persists the monthly request counter in a cache.Service (Redis in production).
type CacheQuotaStore struct {
	cache cache.Service
}

func NewCacheQuotaStore(c cache.Service) domrepo.QuotaStore {
	return &CacheQuotaStore{cache: c}
}

func quotaKey(month string) string {
	return cache.GenerateKey("quota", month)
}

func (s *CacheQuotaStore) Load(ctx context.Context, month string) (int64, error) {
	var used int64
	if err := s.cache.Get(ctx, quotaKey(month), &used); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, fmt.Errorf("load quota %s: %w", month, err)
	}
	return used, nil
}

func (s *CacheQuotaStore) Add(ctx context.Context, month string, n int64) error {
	key := quotaKey(month)
	total, err := s.cache.IncrementBy(ctx, key, n)
	if err != nil {
		return fmt.Errorf("add quota %s: %w", month, err)
	}
	if total == n {
		if _, err := s.cache.Expire(ctx, key, quotaRetention); err != nil {
			return fmt.Errorf("expire quota %s: %w", month, err)
		}
	}
	return nil
}
