package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/logger"
)

// SnapshotReloader is a SnapshotSource that can re-read its config.
type SnapshotReloader interface {
	SnapshotSource
	Reload() (*config.Snapshot, error)
}

// Engine supervises one SymbolWorker per configured symbol and restarts a
// worker that panics.
type Engine struct {
	deps         *WorkerDeps
	snapshots    SnapshotReloader
	log          *logger.Logger
	mu           sync.RWMutex
	workers      map[string]*SymbolWorker
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	restartDelay time.Duration
	queryTimeout time.Duration
}

func NewEngine(deps *WorkerDeps, snapshots SnapshotReloader) *Engine {
	return &Engine{
		deps:         deps,
		snapshots:    snapshots,
		log:          deps.Log,
		workers:      make(map[string]*SymbolWorker),
		restartDelay: time.Second,
		queryTimeout: 2 * time.Second,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	snap := e.snapshots.Current()
	for sym, err := range snap.Invalid() {
		e.deps.Guard.PauseConfigInvalid(e.ctx, sym, err)
	}
	orphans := e.orphans(ctx, snap)
	e.spawn(append(snap.Symbols(), orphans...))
	e.log.Info("engine started",
		logger.Int("symbols", len(snap.Symbols())),
		logger.Int("orphans", len(orphans)),
		logger.Int64("config_version", snap.Version))
	return nil
}

// orphans lists symbols that are no longer configured but still have a
// persisted signal. Their workers monitor and record it, then retire.
func (e *Engine) orphans(ctx context.Context, snap *config.Snapshot) []string {
	lctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()
	sigs, err := e.deps.Store.LoadActive(lctx)
	if err != nil {
		e.deps.Metrics.RecordError("signal_store")
		e.log.Warn("load persisted signals", logger.Error(err))
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, sig := range sigs {
		if snap.Configured(sig.Symbol) || seen[sig.Symbol] {
			continue
		}
		seen[sig.Symbol] = true
		out = append(out, sig.Symbol)
		e.log.Info("settling signal of unconfigured symbol",
			logger.String("symbol", sig.Symbol),
			logger.String("signal_id", sig.ID),
			logger.String("state", string(sig.State)))
	}
	sort.Strings(out)
	return out
}

func (e *Engine) spawn(symbols []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := e.workers[sym]; ok {
			continue
		}
		w := NewSymbolWorker(sym, e.deps)
		e.workers[sym] = w
		e.wg.Add(1)
		go e.supervise(e.ctx, w)
	}
}

func (e *Engine) supervise(ctx context.Context, w *SymbolWorker) {
	defer e.wg.Done()
	for {
		panicked := e.runSafely(ctx, w)
		if ctx.Err() != nil {
			return
		}
		if !panicked {
			if e.retire(w) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.restartDelay):
		}
	}
}

// runSafely reports whether the worker panicked.
func (e *Engine) runSafely(ctx context.Context, w *SymbolWorker) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			e.deps.Metrics.RecordError("worker_panic")
			e.log.Error("symbol worker panic", logger.String("symbol", w.Symbol()), logger.Any("panic", r))
			panicked = true
		}
	}()
	w.Run(ctx)
	return false
}

// retire drops a settled worker unless a reload configured its symbol
// again meanwhile. It runs under the lock spawn takes, so a reload either
// sees the worker and keeps it or finds the slot free.
func (e *Engine) retire(w *SymbolWorker) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshots.Current().Configured(w.Symbol()) {
		return false
	}
	delete(e.workers, w.Symbol())
	e.log.Info("symbol worker retired", logger.String("symbol", w.Symbol()))
	return true
}

// Stop cancels all workers and waits for their pending writes.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

// Reload swaps in a new snapshot. Workers pick it up on their next cycle;
// new symbols get a worker. In-flight decisions finish on the old snapshot.
func (e *Engine) Reload(ctx context.Context) (*config.Snapshot, error) {
	snap, err := e.snapshots.Reload()
	if err != nil {
		return snap, err
	}
	for sym, cause := range snap.Invalid() {
		e.deps.Guard.PauseConfigInvalid(ctx, sym, cause)
	}
	e.mu.RLock()
	started := e.cancel != nil
	e.mu.RUnlock()
	if started {
		e.spawn(snap.Symbols())
	}
	e.log.Info("config reloaded", logger.Int64("config_version", snap.Version), logger.Int("invalid", len(snap.Invalid())))
	return snap, nil
}

func (e *Engine) worker(symbol string) (*SymbolWorker, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workers[symbol]
	return w, ok
}

// Symbols lists symbols with a running worker.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Status queries one worker.
func (e *Engine) Status(ctx context.Context, symbol string) (WorkerStatus, error) {
	w, ok := e.worker(symbol)
	if !ok {
		return WorkerStatus{}, fmt.Errorf("unknown symbol %q", symbol)
	}
	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()
	return w.Status(qctx)
}

// ActiveSignals collects the ACTIVE signal of every worker that has one.
func (e *Engine) ActiveSignals(ctx context.Context) []*models.Signal {
	var out []*models.Signal
	for _, st := range e.Statuses(ctx) {
		if st.Active != nil {
			out = append(out, st.Active)
		}
	}
	return out
}

// Statuses queries every worker; unreachable workers are skipped.
func (e *Engine) Statuses(ctx context.Context) []WorkerStatus {
	var out []WorkerStatus
	for _, sym := range e.Symbols() {
		st, err := e.Status(ctx, sym)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Pause stops new signals for symbol until Resume. An ACTIVE signal keeps
// being monitored.
func (e *Engine) Pause(symbol string) error {
	if _, ok := e.worker(symbol); !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	e.deps.Guard.Pause(symbol)
	e.log.Info("symbol paused", logger.String("symbol", symbol))
	return nil
}

// Resume lifts a pause for symbol.
func (e *Engine) Resume(symbol string) error {
	if _, ok := e.worker(symbol); !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	e.deps.Guard.Resume(symbol)
	e.log.Info("symbol resumed", logger.String("symbol", symbol))
	return nil
}

func (e *Engine) Snapshot() *config.Snapshot { return e.snapshots.Current() }
