package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/cache"
)

const activeSignalPrefix = "signal:active:"

// CacheSignalStore keeps each symbol's owned signal in the cache with no
// expiry so a restarted owner can resume it.
type CacheSignalStore struct {
	c cache.Service
}

func NewCacheSignalStore(c cache.Service) *CacheSignalStore {
	return &CacheSignalStore{c: c}
}

func (s *CacheSignalStore) SaveActive(ctx context.Context, sig *models.Signal) error {
	if sig == nil || sig.Symbol == "" {
		return fmt.Errorf("save active: signal without symbol")
	}
	if err := s.c.Set(ctx, activeSignalPrefix+sig.Symbol, sig, 0); err != nil {
		return fmt.Errorf("save active %s: %w", sig.Symbol, err)
	}
	return nil
}

// GetActive returns nil without error when the symbol has no stored signal.
func (s *CacheSignalStore) GetActive(ctx context.Context, symbol string) (*models.Signal, error) {
	var sig models.Signal
	if err := s.c.Get(ctx, activeSignalPrefix+symbol, &sig); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active %s: %w", symbol, err)
	}
	return &sig, nil
}

func (s *CacheSignalStore) DeleteActive(ctx context.Context, symbol string) error {
	return s.c.Delete(ctx, activeSignalPrefix+symbol)
}

func (s *CacheSignalStore) LoadActive(ctx context.Context) ([]*models.Signal, error) {
	keys, err := s.c.Keys(ctx, activeSignalPrefix)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	vals, err := cache.MGetTyped[models.Signal](ctx, s.c, keys...)
	if err != nil {
		return nil, fmt.Errorf("load active: %w", err)
	}
	out := make([]*models.Signal, 0, len(vals))
	for k, v := range vals {
		if !strings.HasPrefix(k, activeSignalPrefix) {
			continue
		}
		sig := v
		out = append(out, &sig)
	}
	return out, nil
}

var _ domrepo.SignalStore = (*CacheSignalStore)(nil)
