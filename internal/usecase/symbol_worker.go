package usecase

import (
	"context"
	"errors"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/logger"
)

// SnapshotSource hands out the current immutable config snapshot.
type SnapshotSource interface {
	Current() *config.Snapshot
}

// WorkerDeps are shared, stateless-per-symbol collaborators.
type WorkerDeps struct {
	Snapshots    SnapshotSource
	Evaluator    *Evaluator
	Monitor      *LifecycleMonitor
	Recorder     *OutcomeRecorder
	Store        domrepo.SignalStore
	Lease        domrepo.OwnershipLease
	Events       domrepo.EventPublisher
	Guard        *AlarmGuard
	Metrics      domrepo.Metrics
	Log          *logger.Logger
	WriteTimeout time.Duration
}

type WorkerStatus struct {
	Symbol         string         `json:"symbol"`
	LeaseHeld      bool           `json:"lease_held"`
	Active         *models.Signal `json:"active,omitempty"`
	PendingRecord  *models.Signal `json:"pending_record,omitempty"`
	LastEvaluation *Evaluation    `json:"last_evaluation,omitempty"`
	Paused         *PauseInfo     `json:"paused,omitempty"`
}

// SymbolWorker is the single owner of one symbol. All of its fields are
// touched only from the Run goroutine; other goroutines talk to it through
// cmds. It either evaluates (no signal) or monitors (one ACTIVE signal).
type SymbolWorker struct {
	symbol    string
	deps      *WorkerDeps
	log       *logger.Logger
	cmds      chan func(*SymbolWorker)
	watch     *Watch
	pending   *models.Signal
	lastEval  *Evaluation
	leaseHeld bool
}

func NewSymbolWorker(symbol string, deps *WorkerDeps) *SymbolWorker {
	return &SymbolWorker{
		symbol: symbol,
		deps:   deps,
		log:    deps.Log.With(logger.String("symbol", symbol)),
		cmds:   make(chan func(*SymbolWorker)),
	}
}

func (w *SymbolWorker) Symbol() string { return w.symbol }

// Run blocks until ctx is cancelled, or until a worker whose symbol left
// the config has nothing left to settle. On exit any pending ledger write
// is completed before the lease is released.
func (w *SymbolWorker) Run(ctx context.Context) {
	eng := w.deps.Snapshots.Current().Engine
	w.acquire(ctx)

	evalEvery, monEvery := eng.EvaluationInterval, eng.MonitorInterval
	evalT := time.NewTicker(evalEvery)
	defer evalT.Stop()
	monT := time.NewTicker(monEvery)
	defer monT.Stop()
	leaseT := time.NewTicker(leaseRenewEvery(eng.LeaseTTL))
	defer leaseT.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case fn := <-w.cmds:
			fn(w)
		case <-leaseT.C:
			w.renew(ctx)
			if w.settled(ctx, w.deps.Snapshots.Current()) {
				w.shutdown()
				return
			}
		case <-monT.C:
			snap := w.deps.Snapshots.Current()
			retune(monT, &monEvery, snap.Engine.MonitorInterval)
			w.monitor(ctx, snap)
			if w.settled(ctx, snap) {
				w.shutdown()
				return
			}
		case <-evalT.C:
			snap := w.deps.Snapshots.Current()
			retune(evalT, &evalEvery, snap.Engine.EvaluationInterval)
			w.evaluate(ctx, snap)
		}
	}
}

// Status asks the worker for a copy of its state.
func (w *SymbolWorker) Status(ctx context.Context) (WorkerStatus, error) {
	reply := make(chan WorkerStatus, 1)
	select {
	case w.cmds <- func(w *SymbolWorker) { reply <- w.status() }:
	case <-ctx.Done():
		return WorkerStatus{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return WorkerStatus{}, ctx.Err()
	}
}

func (w *SymbolWorker) status() WorkerStatus {
	st := WorkerStatus{Symbol: w.symbol, LeaseHeld: w.leaseHeld}
	if w.lastEval != nil {
		ev := *w.lastEval
		if ev.Signal != nil {
			ev.Signal = ev.Signal.Clone()
		}
		st.LastEvaluation = &ev
	}
	if w.watch != nil {
		st.Active = w.watch.Signal.Clone()
	}
	if w.pending != nil {
		st.PendingRecord = w.pending.Clone()
	}
	if info, paused := w.deps.Guard.Paused(w.symbol); paused {
		st.Paused = &info
	}
	return st
}

func (w *SymbolWorker) evaluate(ctx context.Context, snap *config.Snapshot) {
	if !w.leaseHeld || w.watch != nil {
		return
	}
	if w.pending != nil {
		w.flushPending(ctx, snap)
		if w.pending != nil {
			return
		}
	}
	// a symbol dropped from the config only settles what it already owns
	if !snap.Configured(w.symbol) {
		return
	}
	if _, err := snap.Rules(w.symbol); err != nil {
		w.deps.Metrics.RecordEvaluation(w.symbol, OutcomeConfigInvalid)
		w.deps.Guard.PauseConfigInvalid(ctx, w.symbol, err)
		return
	}
	w.deps.Guard.ClearConfig(w.symbol)
	if _, paused := w.deps.Guard.Paused(w.symbol); paused {
		w.deps.Metrics.RecordEvaluation(w.symbol, "paused")
		return
	}

	start := time.Now()
	ev, err := w.deps.Evaluator.Evaluate(ctx, w.symbol, snap)
	w.deps.Metrics.RecordLatency("evaluate", time.Since(start).Seconds())
	w.deps.Metrics.RecordEvaluation(w.symbol, ev.Outcome)
	w.lastEval = &ev
	if err != nil {
		w.deps.Metrics.RecordError(models.KindOf(err))
		w.log.Warn("evaluation failed", logger.String("outcome", ev.Outcome), logger.Error(err))
		switch {
		case errors.Is(err, models.ErrConfigInvalid):
			w.deps.Guard.PauseConfigInvalid(ctx, w.symbol, err)
		case errors.Is(err, models.ErrExternalTimeout):
			w.deps.Guard.RecordTimeout(ctx, w.symbol)
		}
		return
	}
	if ev.Signal == nil {
		w.log.Debug("no signal", logger.String("outcome", ev.Outcome), logger.Int("samples", ev.SampleCount))
		return
	}
	w.open(ctx, ev.Signal)
}

func (w *SymbolWorker) open(ctx context.Context, sig *models.Signal) {
	w.watch = NewWatch(sig)
	w.persist(ctx, sig)
	w.deps.Metrics.RecordSignalCreated(sig.Symbol, string(sig.Direction), sig.Confidence)
	w.deps.Metrics.SetActive(sig.Symbol, true)
	w.log.Info("signal created",
		logger.String("signal_id", sig.ID),
		logger.String("direction", string(sig.Direction)),
		logger.Float64("entry", sig.EntryPrice),
		logger.Float64("score", sig.Score),
		logger.Float64("threshold", sig.Threshold),
		logger.Float64("confidence", sig.Confidence),
		logger.Float64("multiplier", sig.Multiplier),
		logger.Int("ttl_minutes", sig.TTLMinutes))
	w.deps.Events.Publish(ctx, &models.Event{Type: models.EventSignalCreated, Symbol: sig.Symbol, Signal: sig.Clone()})
}

func (w *SymbolWorker) monitor(ctx context.Context, snap *config.Snapshot) {
	if !w.leaseHeld {
		return
	}
	if w.pending != nil {
		w.flushPending(ctx, snap)
	}
	if w.watch == nil {
		return
	}
	step := w.deps.Monitor.Tick(ctx, w.watch, snap)
	sig := w.watch.Signal
	if step.QuoteErr != nil {
		w.deps.Metrics.RecordError(models.KindOf(step.QuoteErr))
		if errors.Is(step.QuoteErr, models.ErrExternalTimeout) {
			w.deps.Guard.RecordTimeout(ctx, w.symbol)
		}
	} else {
		w.deps.Metrics.RecordLastPrice(w.symbol, w.watch.LastPrice)
	}
	if step.EnteredZone {
		w.deps.Events.Publish(ctx, &models.Event{Type: models.EventTargetZone, Symbol: w.symbol, Signal: sig.Clone()})
	}
	if step.Terminated {
		w.finish(ctx, snap)
		return
	}
	if step.Changed {
		w.persist(ctx, sig)
	}
}

func (w *SymbolWorker) finish(ctx context.Context, snap *config.Snapshot) {
	sig := w.watch.Signal
	w.watch = nil
	w.deps.Metrics.RecordTerminal(sig.Symbol, string(sig.State), sig.TerminalReason)
	w.deps.Metrics.SetActive(sig.Symbol, false)
	w.log.Info("signal terminated",
		logger.String("signal_id", sig.ID),
		logger.String("state", string(sig.State)),
		logger.String("reason", sig.TerminalReason),
		logger.Float64("exit", sig.ExitPrice),
		logger.Float64("pnl_percent", sig.PnLPercent()))
	w.deps.Events.Publish(ctx, &models.Event{
		Type:   models.EventSignalTerminated,
		Symbol: sig.Symbol,
		Signal: sig.Clone(),
		Reason: sig.TerminalReason,
	})
	w.pending = sig
	w.flushPending(ctx, snap)
}

// flushPending writes the terminal signal to the ledger on a context that
// survives cancellation of ctx. On failure the signal stays pending and
// persisted so the write is retried next tick or after a restart.
func (w *SymbolWorker) flushPending(ctx context.Context, snap *config.Snapshot) {
	sig := w.pending
	rules, err := snap.Rules(w.symbol)
	if err != nil {
		rules = snap.Default
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.deps.WriteTimeout)
	defer cancel()
	if _, err := w.deps.Recorder.Record(wctx, sig, rules); err != nil {
		w.log.Error("outcome write failed", logger.String("signal_id", sig.ID), logger.Error(err))
		w.persist(wctx, sig)
		return
	}
	w.pending = nil
	if err := w.deps.Store.DeleteActive(wctx, w.symbol); err != nil {
		w.log.Warn("clear persisted signal", logger.Error(err))
	}
}

func (w *SymbolWorker) persist(ctx context.Context, sig *models.Signal) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.deps.WriteTimeout)
	defer cancel()
	if err := w.deps.Store.SaveActive(pctx, sig); err != nil {
		w.deps.Metrics.RecordError("signal_store")
		w.log.Warn("persist signal", logger.String("signal_id", sig.ID), logger.Error(err))
	}
}

func (w *SymbolWorker) acquire(ctx context.Context) {
	ok, err := w.deps.Lease.Acquire(ctx, w.symbol)
	if err != nil {
		w.deps.Metrics.RecordError("lease")
		w.log.Warn("lease acquire", logger.Error(err))
		return
	}
	if !ok {
		if w.leaseHeld {
			w.log.Warn("lease lost")
		}
		w.leaseHeld = false
		return
	}
	if !w.leaseHeld {
		w.leaseHeld = true
		w.restore(ctx)
	}
}

func (w *SymbolWorker) renew(ctx context.Context) {
	if !w.leaseHeld {
		w.acquire(ctx)
		return
	}
	ok, err := w.deps.Lease.Renew(ctx, w.symbol)
	if err != nil {
		w.deps.Metrics.RecordError("lease")
		w.log.Warn("lease renew", logger.Error(err))
		return
	}
	if !ok {
		w.log.Warn("lease taken by another instance; dropping local state")
		w.leaseHeld = false
		if w.watch != nil {
			w.deps.Metrics.SetActive(w.symbol, false)
		}
		w.watch = nil
		w.pending = nil
	}
}

// restore adopts a signal persisted by a previous owner of the symbol.
func (w *SymbolWorker) restore(ctx context.Context) {
	sig, err := w.deps.Store.GetActive(ctx, w.symbol)
	if err != nil {
		w.log.Warn("load persisted signal", logger.Error(err))
		return
	}
	if sig == nil {
		return
	}
	if sig.State.Terminal() {
		w.pending = sig
		w.log.Info("retrying outcome write", logger.String("signal_id", sig.ID))
		return
	}
	w.watch = NewWatch(sig)
	w.deps.Metrics.SetActive(w.symbol, true)
	w.log.Info("signal restored",
		logger.String("signal_id", sig.ID),
		logger.Time("expires_at", sig.ExpiresAt()))
}

func (w *SymbolWorker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.WriteTimeout)
	defer cancel()
	if w.pending != nil {
		w.flushPending(ctx, w.deps.Snapshots.Current())
	}
	if w.watch != nil {
		w.persist(ctx, w.watch.Signal)
	}
	if w.leaseHeld {
		if err := w.deps.Lease.Release(ctx, w.symbol); err != nil {
			w.log.Warn("lease release", logger.Error(err))
		}
		w.leaseHeld = false
	}
}

// settled reports whether an unconfigured symbol has no signal left to
// monitor or record, here or in the store for another owner to hand over.
func (w *SymbolWorker) settled(ctx context.Context, snap *config.Snapshot) bool {
	if snap.Configured(w.symbol) || w.watch != nil || w.pending != nil {
		return false
	}
	if w.leaseHeld {
		return true
	}
	sig, err := w.deps.Store.GetActive(ctx, w.symbol)
	return err == nil && sig == nil
}

func leaseRenewEvery(ttl time.Duration) time.Duration {
	if d := ttl / 3; d > 0 {
		return d
	}
	return time.Second
}

func retune(t *time.Ticker, cur *time.Duration, want time.Duration) {
	if want > 0 && want != *cur {
		t.Reset(want)
		*cur = want
	}
}
