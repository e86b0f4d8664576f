package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/cache"
	applogger "SignalFlow/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *SQLOutcomeLedger {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenSQLOutcomeLedger("sqlite", dsn, "signal_outcomes")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.Init(context.Background()))
	return l
}

func outcome(id, symbol string, state models.SignalState, pnl float64, at time.Time) models.OutcomeRecord {
	return models.OutcomeRecord{
		SignalID: id, Symbol: symbol, Direction: string(models.Buy),
		EntryPrice: 100, ExitPrice: 100 + pnl, Confidence: 0.8, Multiplier: 1.2,
		TTLMinutes: 60, State: string(state), PnLPercent: pnl, Score: 0.7, Threshold: 0.5,
		ConfigVersion: 1, HighestSeen: 101, LowestSeen: 99,
		CreatedAt: at.Add(-time.Minute), TerminalAt: at, TerminalReason: models.ReasonTargetReached,
	}
}

func TestSQLLedgerRecordsOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_123).UTC()

	inserted, err := l.Record(ctx, outcome("sig-1", "BTCUSDT", models.StateWin, 1.5, at))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = l.Record(ctx, outcome("sig-1", "BTCUSDT", models.StateLoss, -2, at))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate id must not insert")

	ok, err := l.Exists(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, ok)

	recs, err := l.Recent(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateWin), recs[0].State)
	assert.Equal(t, at, recs[0].TerminalAt)
}

func TestSQLLedgerConcurrentDuplicates(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	rec := outcome("sig-dup", "ETHUSDT", models.StateLoss, -1, time.Now().UTC())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Record(ctx, rec)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestSQLLedgerSinceFiltersAndOrders(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 4; i++ {
		sym := "BTCUSDT"
		if i%2 == 1 {
			sym = "ETHUSDT"
		}
		_, err := l.Record(ctx, outcome(fmt.Sprintf("s%d", i), sym, models.StateWin, 1, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	all, err := l.Since(ctx, "", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s1", all[0].SignalID)
	assert.Equal(t, "s3", all[2].SignalID)

	btc, err := l.Since(ctx, "BTCUSDT", base)
	require.NoError(t, err)
	require.Len(t, btc, 2)

	recent, err := l.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s3", recent[0].SignalID)
}

func TestCacheSignalStoreRoundTrip(t *testing.T) {
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	store := NewCacheSignalStore(mc)
	ctx := context.Background()

	got, err := store.GetActive(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	sig := &models.Signal{ID: "a", Symbol: "BTCUSDT", Direction: models.Buy, EntryPrice: 100, State: models.StateActive, Components: []string{"flow_delta"}}
	require.NoError(t, store.SaveActive(ctx, sig))
	require.NoError(t, store.SaveActive(ctx, &models.Signal{ID: "b", Symbol: "ETHUSDT", State: models.StateActive}))

	got, err = store.GetActive(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, []string{"flow_delta"}, got.Components)

	all, err := store.LoadActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteActive(ctx, "BTCUSDT"))
	got, err = store.GetActive(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheLeaseIsExclusive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mc := cache.NewMemoryCache(cache.WithMemoryClock(func() time.Time { return now }), cache.WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()
	a := NewCacheLease(mc, "a", 30*time.Second)
	b := NewCacheLease(mc, "b", 30*time.Second)

	ok, err := a.Acquire(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Renew(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx, "BTCUSDT"), "foreign release is ignored")
	ok, _ = b.Acquire(ctx, "BTCUSDT")
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, "BTCUSDT"))
	ok, err = b.Acquire(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogNotifierAcceptsEveryEventType(t *testing.T) {
	n := NewLogNotifier(applogger.Nop())
	for _, ev := range []*models.Event{
		{Type: models.EventSignalCreated, Symbol: "BTCUSDT", Signal: &models.Signal{ID: "x"}},
		{Type: models.EventAlarm, Level: models.AlarmCritical, Reason: "timeout_budget"},
		{Type: models.EventReport, Report: &models.StatsReport{}},
	} {
		assert.NoError(t, n.Notify(context.Background(), ev))
	}
}
