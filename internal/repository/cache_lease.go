package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/cache"
)

const leasePrefix = "lease:symbol:"

// CacheLease grants symbol ownership through owner-tagged cache locks.
// A lapsed lease is re-taken on Renew when no other owner claimed it.
type CacheLease struct {
	c     cache.Service
	owner string
	ttl   time.Duration
}

func NewCacheLease(c cache.Service, owner string, ttl time.Duration) *CacheLease {
	return &CacheLease{c: c, owner: owner, ttl: ttl}
}

func (l *CacheLease) Owner() string { return l.owner }

func (l *CacheLease) Acquire(ctx context.Context, symbol string) (bool, error) {
	ok, err := l.c.TryLock(ctx, leasePrefix+symbol, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", symbol, err)
	}
	return ok, nil
}

func (l *CacheLease) Renew(ctx context.Context, symbol string) (bool, error) {
	return l.Acquire(ctx, symbol)
}

func (l *CacheLease) Release(ctx context.Context, symbol string) error {
	err := l.c.Unlock(ctx, leasePrefix+symbol, l.owner)
	if errors.Is(err, cache.ErrNotOwner) {
		return nil
	}
	return err
}

var _ domrepo.OwnershipLease = (*CacheLease)(nil)
