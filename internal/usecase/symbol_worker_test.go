package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerOpensSignalAndRecordsWin(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()

	w.evaluate(ctx, snap)
	require.NotNil(t, w.watch)
	sig := w.watch.Signal
	assert.Equal(t, models.Buy, sig.Direction)
	assert.Equal(t, models.StateActive, sig.State)
	assert.Equal(t, 100.0, sig.EntryPrice)
	assert.Equal(t, 0.5, sig.Threshold)
	assert.Equal(t, int64(1), sig.ConfigVersion)
	require.Len(t, h.events.ofType(models.EventSignalCreated), 1)

	stored, err := h.store.GetActive(ctx, testSymbol)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, sig.ID, stored.ID)

	// one ACTIVE signal per symbol: further cycles do not evaluate
	h.clock.Advance(time.Minute)
	w.evaluate(ctx, snap)
	assert.Same(t, sig, w.watch.Signal)
	assert.Len(t, h.events.ofType(models.EventSignalCreated), 1)

	h.prices.set(sig.TargetMin, nil)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)
	assert.Nil(t, w.pending)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, sig.ID, recs[0].SignalID)
	assert.Equal(t, string(models.StateWin), recs[0].State)
	assert.Equal(t, models.ReasonTargetReached, recs[0].TerminalReason)
	assert.Equal(t, sig.TargetMin, recs[0].ExitPrice)
	assert.Greater(t, recs[0].PnLPercent, 0.0)

	stored, err = h.store.GetActive(ctx, testSymbol)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Len(t, h.events.ofType(models.EventTargetZone), 1)
	terminated := h.events.ofType(models.EventSignalTerminated)
	require.Len(t, terminated, 1)
	assert.Equal(t, models.ReasonTargetReached, terminated[0].Reason)
}

func TestWorkerRejectsDivergence(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(map[string]float64{
		"flow_delta":     40_000_000,
		"oi_change":      -3_200_000,
		"vwap_deviation": 0.01,
		"rsi":            80,
		"volume_ratio":   4,
		"atr":            2,
	})
	w := h.worker(t)

	w.evaluate(context.Background(), h.snapshots.Current())
	assert.Nil(t, w.watch)
	require.NotNil(t, w.lastEval)
	assert.Equal(t, models.RejectDivergence, w.lastEval.Outcome)
	require.NotNil(t, w.lastEval.Decision)
	assert.True(t, w.lastEval.Decision.Buy.DivergenceDetected)
	assert.Equal(t, models.NoTradeScore, w.lastEval.Decision.Buy.WeightedScore)
	assert.Empty(t, h.events.ofType(models.EventSignalCreated))
}

func exactlyPointFiveFive() map[string]float64 {
	// flow 0.35 + vwap 0.20 aligned, everything else neutral
	return map[string]float64{
		"flow_delta":     2_000_000,
		"oi_change":      0,
		"vwap_deviation": 0.003,
		"rsi":            50,
		"volume_ratio":   1.0,
		"atr":            2,
	}
}

func TestWorkerAcceptsScoreEqualToThreshold(t *testing.T) {
	h := newHarness(t, 0.55)
	h.features.set(exactlyPointFiveFive())
	w := h.worker(t)

	w.evaluate(context.Background(), h.snapshots.Current())
	require.NotNil(t, w.watch)
	assert.InDelta(t, 0.55, w.watch.Signal.Score, 1e-9)
	assert.Equal(t, 0.55, w.watch.Signal.Threshold)
}

func TestWorkerRejectsScoreBelowThreshold(t *testing.T) {
	h := newHarness(t, 0.56)
	h.features.set(exactlyPointFiveFive())
	w := h.worker(t)

	w.evaluate(context.Background(), h.snapshots.Current())
	assert.Nil(t, w.watch)
	assert.Equal(t, models.RejectBelowThreshold, w.lastEval.Outcome)
}

func TestWorkerCancelsAfterStaleGrace(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()
	w.evaluate(ctx, snap)
	require.NotNil(t, w.watch)

	h.prices.set(100.5, nil)
	w.monitor(ctx, snap)
	require.Equal(t, 100.5, w.watch.LastPrice)

	h.prices.set(0, models.NewEngineError(models.ErrDataStale, testSymbol, nil))
	h.clock.Advance(5 * time.Second)
	w.monitor(ctx, snap)
	require.NotNil(t, w.watch, "inside the grace period the signal stays active")

	h.clock.Advance(31 * time.Second)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateCancelled), recs[0].State)
	assert.Equal(t, models.ReasonStaleData, recs[0].TerminalReason)
	assert.Equal(t, 100.0, recs[0].ExitPrice, "no fresh price at the transition: closes at entry")
	assert.Zero(t, recs[0].PnLPercent)
}

func TestWorkerRecheckCancelsWithRejectReason(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()
	w.evaluate(ctx, snap)
	require.NotNil(t, w.watch)

	weak := bullishFeatures()
	weak["flow_delta"] = 0
	weak["oi_change"] = 0
	weak["vwap_deviation"] = 0.0005
	h.features.set(weak)

	h.clock.Advance(30 * time.Second)
	w.monitor(ctx, snap)
	require.NotNil(t, w.watch, "no recheck before the interval elapses")

	h.clock.Advance(31 * time.Second)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateCancelled), recs[0].State)
	assert.Equal(t, models.RejectConfluence, recs[0].TerminalReason)
}

func TestWorkerRecheckKeepsGenerationThreshold(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	w.evaluate(ctx, h.snapshots.Current())
	require.NotNil(t, w.watch)
	require.Equal(t, 0.5, w.watch.Signal.Threshold)

	// flow goes flat; oi and vwap still align for 0.45 with the ratio met
	h.features.set(map[string]float64{
		"flow_delta":     0,
		"oi_change":      1_500,
		"vwap_deviation": 0.003,
		"rsi":            50,
		"volume_ratio":   1.0,
		"atr":            2,
	})
	lowered := testSnapshots(t, 0.40).Current()
	h.clock.Advance(61 * time.Second)
	w.monitor(ctx, lowered)
	assert.Nil(t, w.watch, "0.45 clears the reloaded 0.40 but not the captured 0.50")

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateCancelled), recs[0].State)
	assert.Equal(t, models.RejectBelowThreshold, recs[0].TerminalReason)
	assert.Equal(t, 0.5, recs[0].Threshold)
}

func TestWorkerExpiresWithFreshPrice(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()
	w.evaluate(ctx, snap)
	require.NotNil(t, w.watch)
	sig := w.watch.Signal

	h.prices.set(100.4, nil)
	h.clock.Advance(sig.ExpiresAt().Sub(h.clock.Now()) + time.Second)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateExpired), recs[0].State)
	assert.Equal(t, models.ReasonTTLElapsed, recs[0].TerminalReason)
	assert.Equal(t, 100.4, recs[0].ExitPrice)
}

func TestWorkerExpiresStaleAtEntry(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()
	w.evaluate(ctx, snap)
	require.NotNil(t, w.watch)
	sig := w.watch.Signal

	h.prices.set(100.6, nil)
	w.monitor(ctx, snap)
	h.prices.set(0, models.NewEngineError(models.ErrDataStale, testSymbol, nil))
	h.clock.Advance(sig.ExpiresAt().Sub(h.clock.Now()) + time.Second)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateExpired), recs[0].State)
	assert.Equal(t, models.ReasonTTLElapsedStale, recs[0].TerminalReason)
	assert.Equal(t, sig.EntryPrice, recs[0].ExitPrice)
}

func TestWorkerExpiresSignalRestoredAfterTTL(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	ctx := context.Background()
	snap := h.snapshots.Current()

	first := h.worker(t)
	first.evaluate(ctx, snap)
	require.NotNil(t, first.watch)
	sig := first.watch.Signal

	// down past the TTL; the first quote back sits in the target zone
	h.clock.Advance(sig.ExpiresAt().Sub(h.clock.Now()) + time.Minute)
	h.prices.set(sig.TargetMin+0.1, nil)
	second := h.worker(t)
	require.NotNil(t, second.watch)
	second.monitor(ctx, snap)
	assert.Nil(t, second.watch)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, sig.ID, recs[0].SignalID)
	assert.Equal(t, string(models.StateExpired), recs[0].State, "a quote after expiry cannot prove a hit")
	assert.Equal(t, models.ReasonTTLElapsed, recs[0].TerminalReason)
	assert.Equal(t, sig.TargetMin+0.1, recs[0].ExitPrice)
}

func TestWorkerRecordsFirstCrossingNotExtremes(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()
	w.evaluate(ctx, snap)
	require.NotNil(t, w.watch)
	sig := w.watch.Signal

	// adverse excursion short of the invalidation bound
	h.prices.set(sig.InvalidationPrice+0.5, nil)
	w.monitor(ctx, snap)
	require.NotNil(t, w.watch)

	crossing := sig.TargetMin + 0.05
	h.prices.set(crossing, nil)
	h.clock.Advance(5 * time.Second)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)

	// the later, better price reaches nobody
	h.prices.set(sig.TargetMax+5, nil)
	h.clock.Advance(5 * time.Second)
	w.monitor(ctx, snap)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateWin), recs[0].State)
	assert.Equal(t, crossing, recs[0].ExitPrice)
	assert.Equal(t, sig.InvalidationPrice+0.5, recs[0].LowestSeen)
	assert.NotEqual(t, recs[0].LowestSeen, recs[0].ExitPrice)
	assert.Equal(t, crossing, recs[0].HighestSeen)
}

func TestWorkerRestoreKeepsRecheckCadence(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	ctx := context.Background()
	snap := h.snapshots.Current()

	first := h.worker(t)
	first.evaluate(ctx, snap)
	require.NotNil(t, first.watch)

	h.clock.Advance(61 * time.Second)
	first.monitor(ctx, snap)
	require.NotNil(t, first.watch)
	rechecked := h.clock.Now()

	second := h.worker(t)
	require.NotNil(t, second.watch)
	assert.Equal(t, rechecked, second.watch.Signal.LastRecheck)

	weak := bullishFeatures()
	weak["flow_delta"] = 0
	weak["oi_change"] = 0
	weak["vwap_deviation"] = 0.0005
	h.features.set(weak)

	h.clock.Advance(30 * time.Second)
	second.monitor(ctx, snap)
	assert.NotNil(t, second.watch, "30s since the last recheck is inside the interval")

	h.clock.Advance(31 * time.Second)
	second.monitor(ctx, snap)
	assert.Nil(t, second.watch)
}

func TestWorkerPausesAfterTimeoutBudget(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	timeout := models.NewEngineError(models.ErrDataStale, testSymbol, models.ErrExternalTimeout)
	h.prices.set(0, timeout)
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()

	for i := 0; i < 3; i++ {
		w.evaluate(ctx, snap)
		h.clock.Advance(time.Second)
	}
	info, paused := h.guard.Paused(testSymbol)
	require.True(t, paused)
	assert.Equal(t, PauseTimeoutBudget, info.Reason)

	alarms := h.events.ofType(models.EventAlarm)
	require.Len(t, alarms, 1)
	assert.Equal(t, models.AlarmCritical, alarms[0].Level)

	// paused symbols skip evaluation even with a healthy feed
	h.prices.set(100, nil)
	w.evaluate(ctx, snap)
	assert.Nil(t, w.watch)

	h.clock.Advance(10 * time.Minute)
	w.evaluate(ctx, snap)
	assert.NotNil(t, w.watch, "timed pause lapses")
}

func TestWorkerKeepsFailedWriteUntilShutdown(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	snap := h.snapshots.Current()
	w.evaluate(ctx, snap)
	sig := w.watch.Signal

	h.ledger.setFail(errors.New("ledger down"))
	h.prices.set(sig.InvalidationPrice, nil)
	w.monitor(ctx, snap)
	assert.Nil(t, w.watch)
	require.NotNil(t, w.pending)
	assert.Empty(t, h.ledger.all())

	stored, err := h.store.GetActive(ctx, testSymbol)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StateLoss, stored.State)

	h.ledger.setFail(nil)
	w.shutdown()
	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(models.StateLoss), recs[0].State)
	assert.Equal(t, models.ReasonInvalidated, recs[0].TerminalReason)
	assert.Less(t, recs[0].PnLPercent, 0.0)

	stored, err = h.store.GetActive(ctx, testSymbol)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, []string{testSymbol}, h.lease.releasedSymbols())
}

func TestWorkerRestoresAfterRestart(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	ctx := context.Background()
	snap := h.snapshots.Current()

	first := h.worker(t)
	first.evaluate(ctx, snap)
	sig := first.watch.Signal

	// the first owner dies without shutting down
	second := h.worker(t)
	require.NotNil(t, second.watch)
	assert.Equal(t, sig.ID, second.watch.Signal.ID)

	h.ledger.setFail(errors.New("ledger down"))
	h.prices.set(sig.TargetMin, nil)
	second.monitor(ctx, snap)
	require.NotNil(t, second.pending)

	h.ledger.setFail(nil)
	third := h.worker(t)
	assert.Nil(t, third.watch)
	require.NotNil(t, third.pending)

	third.evaluate(ctx, snap)
	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.Equal(t, sig.ID, recs[0].SignalID)
	assert.Nil(t, third.pending)

	// a repeated write of the same id is a no-op
	ok, err := h.deps.Recorder.Record(ctx, second.pending, snap.Default)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, h.ledger.all(), 1)
}

func TestWorkerWithoutLeaseStaysIdle(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	h.lease.denied[testSymbol] = true

	w := NewSymbolWorker(testSymbol, h.deps)
	w.acquire(context.Background())
	assert.False(t, w.leaseHeld)

	w.evaluate(context.Background(), h.snapshots.Current())
	assert.Nil(t, w.watch)
	assert.Nil(t, w.lastEval)
}

func TestWorkerDropsStateWhenLeaseLost(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	ctx := context.Background()
	w.evaluate(ctx, h.snapshots.Current())
	require.NotNil(t, w.watch)

	h.lease.mu.Lock()
	h.lease.denied[testSymbol] = true
	h.lease.mu.Unlock()
	w.renew(ctx)

	assert.False(t, w.leaseHeld)
	assert.Nil(t, w.watch)
	stored, err := h.store.GetActive(ctx, testSymbol)
	require.NoError(t, err)
	assert.NotNil(t, stored, "the next owner restores the signal")
}

func TestWorkerStatusIsACopy(t *testing.T) {
	h := newHarness(t, 0.5)
	h.features.set(bullishFeatures())
	w := h.worker(t)
	w.evaluate(context.Background(), h.snapshots.Current())

	st := w.status()
	require.NotNil(t, st.Active)
	st.Active.Components[0] = "mutated"
	st.Active.State = models.StateLoss
	assert.Equal(t, models.StateActive, w.watch.Signal.State)
	assert.NotEqual(t, "mutated", w.watch.Signal.Components[0])
	assert.True(t, st.LeaseHeld)
	require.NotNil(t, st.LastEvaluation)
	assert.Equal(t, OutcomeSignal, st.LastEvaluation.Outcome)
}
