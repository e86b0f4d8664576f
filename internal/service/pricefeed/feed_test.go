package pricefeed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchFunc func(ctx context.Context, symbol string) (*models.PriceQuote, error)

func (f fetchFunc) Fetch(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	return f(ctx, symbol)
}

var testPolicy = retry.Policy{Attempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, PerAttempt: 20 * time.Millisecond}

func TestQuoteBookKeepsNewest(t *testing.T) {
	b := NewQuoteBook()
	t0 := time.Unix(1_700_000_000, 0)
	assert.True(t, b.Update(&models.PriceQuote{Symbol: "BTCUSDT", Price: 100, Timestamp: t0}))
	assert.False(t, b.Update(&models.PriceQuote{Symbol: "BTCUSDT", Price: 90, Timestamp: t0.Add(-time.Second)}))
	q, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price)
}

func TestFeedServesFreshBookWithoutFetching(t *testing.T) {
	b := NewQuoteBook()
	now := time.Now()
	b.Update(&models.PriceQuote{Symbol: "BTCUSDT", Price: 100, Timestamp: now})
	var calls atomic.Int32
	f := NewFeed(b, fetchFunc(func(context.Context, string) (*models.PriceQuote, error) {
		calls.Add(1)
		return nil, errors.New("unexpected")
	}), testPolicy, 30*time.Second)

	q, err := f.Quote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Price)
	assert.Zero(t, calls.Load())
}

func TestFeedFallsBackToFetchAndUpdatesBook(t *testing.T) {
	b := NewQuoteBook()
	f := NewFeed(b, fetchFunc(func(_ context.Context, s string) (*models.PriceQuote, error) {
		return &models.PriceQuote{Symbol: s, Price: 42, Timestamp: time.Now()}, nil
	}), testPolicy, 30*time.Second)

	q, err := f.Quote(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42.0, q.Price)
	cached, ok := b.Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 42.0, cached.Price)
}

func TestFeedEscalatesTimeoutsToStale(t *testing.T) {
	var calls atomic.Int32
	f := NewFeed(NewQuoteBook(), fetchFunc(func(ctx context.Context, _ string) (*models.PriceQuote, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}), testPolicy, 30*time.Second)

	start := time.Now()
	_, err := f.Quote(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataStale)
	assert.ErrorIs(t, err, models.ErrExternalTimeout)
	assert.Equal(t, int32(3), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestFeedWithoutFetcherReturnsLastQuote(t *testing.T) {
	b := NewQuoteBook()
	old := time.Now().Add(-time.Hour)
	b.Update(&models.PriceQuote{Symbol: "BTCUSDT", Price: 100, Timestamp: old})
	f := NewFeed(b, nil, testPolicy, 30*time.Second)

	q, err := f.Quote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, q.Usable(time.Now(), 30*time.Second))

	_, err = f.Quote(context.Background(), "SOLUSDT")
	assert.ErrorIs(t, err, models.ErrDataStale)
}

func TestWireMessageQuotes(t *testing.T) {
	m := wireMessage{Type: "trade", Data: []wireTrade{{S: "BTCUSDT", P: 101.5, T: 1_700_000_000_000}}}
	qs := m.quotes()
	require.Len(t, qs, 1)
	assert.Equal(t, "BTCUSDT", qs[0].Symbol)
	assert.Equal(t, int64(1_700_000_000), qs[0].Timestamp.Unix())
	assert.Empty(t, wireMessage{Type: "ping"}.quotes())
}
