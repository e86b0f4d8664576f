package usecase

import (
	"context"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	domsvc "SignalFlow/internal/domain/service"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/logger"
)

// Watch is the monitor bookkeeping for one ACTIVE signal. It is owned by
// the symbol worker and never shared. The recheck cadence lives on the
// signal so it survives a restore.
type Watch struct {
	Signal     *models.Signal
	StaleSince time.Time
	LastPrice  float64
}

func NewWatch(sig *models.Signal) *Watch {
	if sig.LastRecheck.IsZero() {
		sig.LastRecheck = sig.CreatedAt
	}
	return &Watch{Signal: sig, LastPrice: sig.EntryPrice}
}

// Step is the result of one monitor tick.
type Step struct {
	Terminated  bool
	EnteredZone bool
	Changed     bool // extremes or flags moved and should be persisted
	Rechecked   *models.ScoreResult
	QuoteErr    error
}

// LifecycleMonitor drives ACTIVE → {WIN, LOSS, CANCELLED, EXPIRED}.
type LifecycleMonitor struct {
	features domsvc.FeatureSource
	scorer   domsvc.Scorer
	prices   domrepo.PriceFeed
	log      *logger.Logger
	now      func() time.Time
}

func NewLifecycleMonitor(fs domsvc.FeatureSource, scorer domsvc.Scorer, prices domrepo.PriceFeed, lgr *logger.Logger) *LifecycleMonitor {
	return &LifecycleMonitor{features: fs, scorer: scorer, prices: prices, log: lgr, now: time.Now}
}

// Tick evaluates one poll for w. Stale or malformed prices never decide
// WIN or LOSS. Rechecks score with the threshold captured on the signal.
func (m *LifecycleMonitor) Tick(ctx context.Context, w *Watch, snap *config.Snapshot) Step {
	sig := w.Signal
	if sig.State.Terminal() {
		return Step{Terminated: true}
	}
	eng := snap.Engine
	now := m.now()
	expires := sig.ExpiresAt()

	quote, err := m.prices.Quote(ctx, sig.Symbol)
	if err != nil || !quote.Usable(now, eng.PriceFreshness) {
		return m.stale(w, now, expires, eng, err)
	}
	w.StaleSince = time.Time{}
	w.LastPrice = quote.Price

	var step Step
	// a quote stamped after expiry cannot prove a hit inside the TTL
	if !quote.Timestamp.After(expires) {
		hi, lo := sig.HighestSeen, sig.LowestSeen
		sig.Observe(quote.Price)
		step.Changed = hi != sig.HighestSeen || lo != sig.LowestSeen

		if m.priceRule(sig, quote.Price, now, &step) {
			return step
		}
	}

	if !now.Before(expires) {
		m.terminate(sig, models.StateExpired, models.ReasonTTLElapsed, quote.Price, now)
		step.Terminated = true
		return step
	}

	if now.Sub(sig.LastRecheck) >= eng.RecheckInterval {
		sig.LastRecheck = now
		step.Changed = true
		if res, ok := m.recheck(sig, snap); ok {
			step.Rechecked = &res
			if !res.Accepted {
				m.terminate(sig, models.StateCancelled, res.RejectReason, quote.Price, now)
				step.Terminated = true
			}
		}
	}
	return step
}

// priceRule applies the WIN and LOSS bounds and the target zone flag.
func (m *LifecycleMonitor) priceRule(sig *models.Signal, price float64, now time.Time, step *Step) bool {
	var win, loss, inZone bool
	if sig.Direction == models.Buy {
		inZone = price >= sig.TargetMin
		win = inZone
		if sig.WinOn == "far" {
			win = price >= sig.TargetMax
		}
		loss = price <= sig.InvalidationPrice
	} else {
		inZone = price <= sig.TargetMax
		win = inZone
		if sig.WinOn == "far" {
			win = price <= sig.TargetMin
		}
		loss = price >= sig.InvalidationPrice
	}

	if inZone && !sig.TargetZoneAlerted {
		sig.TargetZoneAlerted = true
		step.EnteredZone = true
		step.Changed = true
	}
	switch {
	case win:
		m.terminate(sig, models.StateWin, models.ReasonTargetReached, price, now)
	case loss:
		m.terminate(sig, models.StateLoss, models.ReasonInvalidated, price, now)
	default:
		return false
	}
	step.Terminated = true
	return true
}

func (m *LifecycleMonitor) stale(w *Watch, now, expires time.Time, eng config.EngineConfig, quoteErr error) Step {
	sig := w.Signal
	step := Step{QuoteErr: quoteErr}
	if w.StaleSince.IsZero() {
		w.StaleSince = now
	}
	// without a fresh price there is no realized exit; the entry closes flat
	switch {
	case !now.Before(expires):
		m.terminate(sig, models.StateExpired, models.ReasonTTLElapsedStale, sig.EntryPrice, now)
		step.Terminated = true
	case now.Sub(w.StaleSince) >= eng.StaleGrace:
		m.terminate(sig, models.StateCancelled, models.ReasonStaleData, sig.EntryPrice, now)
		step.Terminated = true
	}
	return step
}

// recheck rescores the signal's direction. It reports false when no
// features or rules are available, in which case nothing is cancelled.
func (m *LifecycleMonitor) recheck(sig *models.Signal, snap *config.Snapshot) (models.ScoreResult, bool) {
	rules, err := snap.Rules(sig.Symbol)
	if err != nil {
		m.log.Warn("recheck skipped: rules unavailable", logger.String("symbol", sig.Symbol), logger.Error(err))
		return models.ScoreResult{}, false
	}
	f, err := m.features.Features(sig.Symbol, snap.Engine.Window)
	if err != nil {
		m.log.Debug("recheck skipped: no features", logger.String("symbol", sig.Symbol), logger.Error(err))
		return models.ScoreResult{}, false
	}
	return m.scorer.Score(sig.Direction, f, rules, sig.Threshold), true
}

func (m *LifecycleMonitor) terminate(sig *models.Signal, state models.SignalState, reason string, exit float64, at time.Time) {
	if err := sig.Terminate(state, reason, exit, at); err != nil {
		m.log.Error("terminate signal", logger.String("signal_id", sig.ID), logger.Error(err))
	}
}
