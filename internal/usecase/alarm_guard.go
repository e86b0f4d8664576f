package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/pkg/logger"
)

// Pause reasons.
const (
	PauseTimeoutBudget = "timeout_budget"
	PauseConfigInvalid = "config_invalid"
	PauseManual        = "manual"
)

type PauseInfo struct {
	Reason string    `json:"reason"`
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until,omitempty"` // zero until config becomes valid again
}

// GuardConfig bounds how many external timeouts a symbol may take inside
// Window before new-signal generation pauses for PauseFor.
type GuardConfig struct {
	Budget        int
	Window        time.Duration
	PauseFor      time.Duration
	AlarmInterval time.Duration
}

// AlarmGuard tracks per-symbol failure budgets, pauses and operator alarms.
// Pausing never touches an ACTIVE signal; its monitor keeps running.
type AlarmGuard struct {
	mu       sync.Mutex
	cfg      GuardConfig
	timeouts map[string][]time.Time
	paused   map[string]PauseInfo
	limiter  *ratelimit.Limiter
	events   domrepo.EventPublisher
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time
}

func NewAlarmGuard(cfg GuardConfig, limiter *ratelimit.Limiter, events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger) *AlarmGuard {
	if cfg.Budget < 1 {
		cfg.Budget = 1
	}
	return &AlarmGuard{
		cfg:      cfg,
		timeouts: make(map[string][]time.Time),
		paused:   make(map[string]PauseInfo),
		limiter:  limiter,
		events:   events,
		metrics:  metrics,
		log:      lgr,
		now:      time.Now,
	}
}

// RecordTimeout counts one ExternalTimeout. It returns true when this
// timeout exhausted the budget and paused the symbol.
func (g *AlarmGuard) RecordTimeout(ctx context.Context, symbol string) bool {
	now := g.now()
	g.mu.Lock()
	cutoff := now.Add(-g.cfg.Window)
	kept := g.timeouts[symbol][:0]
	for _, t := range g.timeouts[symbol] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	g.timeouts[symbol] = kept
	exhausted := len(kept) >= g.cfg.Budget
	_, already := g.paused[symbol]
	if exhausted && !already {
		g.paused[symbol] = PauseInfo{Reason: PauseTimeoutBudget, Since: now, Until: now.Add(g.cfg.PauseFor)}
		delete(g.timeouts, symbol)
	}
	g.mu.Unlock()

	if exhausted && !already {
		g.metrics.SetPaused(symbol, true)
		g.Raise(ctx, symbol, models.AlarmCritical, PauseTimeoutBudget,
			fmt.Sprintf("%d external timeouts within %s; new signals paused for %s", len(kept), g.cfg.Window, g.cfg.PauseFor))
		return true
	}
	return false
}

// PauseConfigInvalid pauses symbol until ClearConfig is called. A manual
// pause is left in place so ClearConfig cannot lift it.
func (g *AlarmGuard) PauseConfigInvalid(ctx context.Context, symbol string, cause error) {
	g.mu.Lock()
	cur, ok := g.paused[symbol]
	if !ok || cur.Reason == PauseTimeoutBudget {
		g.paused[symbol] = PauseInfo{Reason: PauseConfigInvalid, Since: g.now()}
	}
	g.mu.Unlock()
	g.metrics.SetPaused(symbol, true)
	g.Raise(ctx, symbol, models.AlarmCritical, PauseConfigInvalid, cause.Error())
}

// ClearConfig lifts a config pause once the symbol has valid rules.
func (g *AlarmGuard) ClearConfig(symbol string) {
	g.mu.Lock()
	cur, ok := g.paused[symbol]
	if ok && cur.Reason == PauseConfigInvalid {
		delete(g.paused, symbol)
	}
	g.mu.Unlock()
	if ok && cur.Reason == PauseConfigInvalid {
		g.metrics.SetPaused(symbol, false)
		g.log.Info("config pause lifted", logger.String("symbol", symbol))
	}
}

// Pause stops new signals for symbol until Resume.
func (g *AlarmGuard) Pause(symbol string) {
	g.mu.Lock()
	g.paused[symbol] = PauseInfo{Reason: PauseManual, Since: g.now()}
	g.mu.Unlock()
	g.metrics.SetPaused(symbol, true)
}

// Resume clears any pause and the timeout history for symbol.
func (g *AlarmGuard) Resume(symbol string) bool {
	g.mu.Lock()
	_, ok := g.paused[symbol]
	delete(g.paused, symbol)
	delete(g.timeouts, symbol)
	g.mu.Unlock()
	g.metrics.SetPaused(symbol, false)
	return ok
}

// Paused reports whether new signals are blocked. Timed pauses lapse on read.
func (g *AlarmGuard) Paused(symbol string) (PauseInfo, bool) {
	now := g.now()
	g.mu.Lock()
	info, ok := g.paused[symbol]
	if ok && !info.Until.IsZero() && !now.Before(info.Until) {
		delete(g.paused, symbol)
		ok = false
	}
	g.mu.Unlock()
	if !ok && !info.Since.IsZero() {
		g.metrics.SetPaused(symbol, false)
	}
	return info, ok
}

// PausedSymbols returns a copy of the current pauses.
func (g *AlarmGuard) PausedSymbols() map[string]PauseInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]PauseInfo, len(g.paused))
	for k, v := range g.paused {
		out[k] = v
	}
	return out
}

// Raise publishes an alarm unless one with the same symbol and reason went
// out within AlarmInterval.
func (g *AlarmGuard) Raise(ctx context.Context, symbol string, level models.AlarmLevel, reason, message string) {
	if !g.limiter.AllowEvery("alarm:"+symbol+":"+reason, g.cfg.AlarmInterval) {
		return
	}
	g.log.Warn("alarm raised",
		logger.String("symbol", symbol),
		logger.String("level", string(level)),
		logger.String("reason", reason),
		logger.String("message", message))
	g.events.Publish(ctx, &models.Event{
		Type:    models.EventAlarm,
		Symbol:  symbol,
		Time:    g.now(),
		Level:   level,
		Reason:  reason,
		Message: message,
	})
}
