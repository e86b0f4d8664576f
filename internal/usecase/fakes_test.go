package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/internal/services/composer"
	"SignalFlow/internal/services/scoring"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/retry"

	"github.com/stretchr/testify/require"
)

const testSymbol = "BTCUSDT"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type nopMetrics struct{}

func (nopMetrics) RecordEvaluation(string, string)             {}
func (nopMetrics) RecordSignalCreated(string, string, float64) {}
func (nopMetrics) RecordTerminal(string, string, string)       {}
func (nopMetrics) SetActive(string, bool)                      {}
func (nopMetrics) SetPaused(string, bool)                      {}
func (nopMetrics) RecordError(string)                          {}
func (nopMetrics) RecordLastPrice(string, float64)             {}
func (nopMetrics) RecordLatency(string, float64)               {}

type fakeFeatures struct {
	mu sync.Mutex
	f  *models.AggregatedFeatures
}

func (s *fakeFeatures) set(kv map[string]float64) {
	s.mu.Lock()
	s.f = &models.AggregatedFeatures{Symbol: testSymbol, Values: kv, SampleCount: 5}
	s.mu.Unlock()
}

func (s *fakeFeatures) Features(symbol string, _ time.Duration) (*models.AggregatedFeatures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, models.NewEngineError(models.ErrDataInsufficient, symbol, nil)
	}
	c := *s.f
	return &c, nil
}

func (s *fakeFeatures) Aggregate(symbol string, w time.Duration) (*models.AggregatedFeatures, error) {
	return s.Features(symbol, w)
}

func (s *fakeFeatures) Snapshot(symbol string) (*models.AggregatedFeatures, error) {
	return s.Features(symbol, 0)
}

type fakePrices struct {
	mu    sync.Mutex
	clock *testClock
	price float64
	err   error
}

func (p *fakePrices) set(price float64, err error) {
	p.mu.Lock()
	p.price, p.err = price, err
	p.mu.Unlock()
}

func (p *fakePrices) Quote(_ context.Context, symbol string) (*models.PriceQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &models.PriceQuote{Symbol: symbol, Price: p.price, Timestamp: p.clock.Now(), Source: "test"}, nil
}

type memLedger struct {
	mu   sync.Mutex
	recs map[string]models.OutcomeRecord
	fail error
}

func newMemLedger() *memLedger { return &memLedger{recs: make(map[string]models.OutcomeRecord)} }

func (l *memLedger) setFail(err error) {
	l.mu.Lock()
	l.fail = err
	l.mu.Unlock()
}

func (l *memLedger) Init(context.Context) error { return nil }

func (l *memLedger) Record(_ context.Context, rec models.OutcomeRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return false, l.fail
	}
	if _, ok := l.recs[rec.SignalID]; ok {
		return false, nil
	}
	l.recs[rec.SignalID] = rec
	return true, nil
}

func (l *memLedger) Exists(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.recs[id]
	return ok, nil
}

func (l *memLedger) all() []models.OutcomeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.OutcomeRecord, 0, len(l.recs))
	for _, r := range l.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TerminalAt.Before(out[j].TerminalAt) })
	return out
}

func (l *memLedger) Recent(_ context.Context, symbol string, limit int) ([]models.OutcomeRecord, error) {
	var out []models.OutcomeRecord
	recs := l.all()
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || recs[i].Symbol == symbol {
			out = append(out, recs[i])
		}
	}
	return out, nil
}

func (l *memLedger) Since(_ context.Context, symbol string, from time.Time) ([]models.OutcomeRecord, error) {
	var out []models.OutcomeRecord
	for _, r := range l.all() {
		if (symbol == "" || r.Symbol == symbol) && !r.TerminalAt.Before(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLedger) Health(context.Context) error { return nil }
func (l *memLedger) Close() error                 { return nil }

type memStore struct {
	mu   sync.Mutex
	sigs map[string]*models.Signal
}

func newMemStore() *memStore { return &memStore{sigs: make(map[string]*models.Signal)} }

func (s *memStore) SaveActive(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	s.sigs[sig.Symbol] = sig.Clone()
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetActive(_ context.Context, symbol string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig, ok := s.sigs[symbol]; ok {
		return sig.Clone(), nil
	}
	return nil, nil
}

func (s *memStore) DeleteActive(_ context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.sigs, symbol)
	s.mu.Unlock()
	return nil
}

func (s *memStore) LoadActive(context.Context) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Signal
	for _, sig := range s.sigs {
		out = append(out, sig.Clone())
	}
	return out, nil
}

// fakeLease grants every symbol unless denied.
type fakeLease struct {
	mu       sync.Mutex
	denied   map[string]bool
	released []string
}

func newFakeLease() *fakeLease { return &fakeLease{denied: make(map[string]bool)} }

func (l *fakeLease) Acquire(_ context.Context, symbol string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.denied[symbol], nil
}

func (l *fakeLease) Renew(ctx context.Context, symbol string) (bool, error) {
	return l.Acquire(ctx, symbol)
}

func (l *fakeLease) Release(_ context.Context, symbol string) error {
	l.mu.Lock()
	l.released = append(l.released, symbol)
	l.mu.Unlock()
	return nil
}

func (l *fakeLease) releasedSymbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.released...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev *models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingEvents) ofType(t models.EventType) []*models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func bullishFeatures() map[string]float64 {
	return map[string]float64{
		"flow_delta":     2_000_000,
		"oi_change":      1_500,
		"vwap_deviation": 0.003,
		"rsi":            62,
		"volume_ratio":   1.8,
		"atr":            2,
	}
}

// testSnapshots builds a one-symbol snapshot. Extra engine settings are
// given as "key: value" lines.
func testSnapshots(t *testing.T, threshold float64, engine ...string) *config.SnapshotStore {
	t.Helper()
	var extra strings.Builder
	for _, line := range engine {
		extra.WriteString("\n  " + line)
	}
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
engine:
  symbols: [%s]
  stale_grace: 30s%s
rules:
  default:
    min_score_threshold: %v
`, testSymbol, extra.String(), threshold)))
	require.NoError(t, err)
	return config.NewSnapshotStore(cfg, "")
}

// harness wires a worker against in-memory collaborators and one clock.
type harness struct {
	clock     *testClock
	snapshots *config.SnapshotStore
	features  *fakeFeatures
	prices    *fakePrices
	ledger    *memLedger
	store     *memStore
	lease     *fakeLease
	events    *recordingEvents
	guard     *AlarmGuard
	deps      *WorkerDeps
}

func newHarness(t *testing.T, threshold float64, engine ...string) *harness {
	t.Helper()
	h := &harness{
		clock:    newTestClock(),
		features: &fakeFeatures{},
		ledger:   newMemLedger(),
		store:    newMemStore(),
		lease:    newFakeLease(),
		events:   &recordingEvents{},
	}
	h.snapshots = testSnapshots(t, threshold, engine...)
	h.prices = &fakePrices{clock: h.clock, price: 100}
	lgr := logger.Nop()
	m := nopMetrics{}

	h.guard = NewAlarmGuard(GuardConfig{Budget: 3, Window: time.Minute, PauseFor: 10 * time.Minute, AlarmInterval: time.Minute},
		ratelimit.New(), h.events, m, lgr)
	h.guard.now = h.clock.Now

	eval := NewEvaluator(h.features, scoring.NewScorer(), composer.NewComposer(), h.prices)
	eval.now = h.clock.Now
	mon := NewLifecycleMonitor(h.features, scoring.NewScorer(), h.prices, lgr)
	mon.now = h.clock.Now
	rec := NewOutcomeRecorder(h.ledger, retry.Policy{Attempts: 1}, composer.NewConfidenceMonitor(50), h.guard, m, lgr)

	h.deps = &WorkerDeps{
		Snapshots:    h.snapshots,
		Evaluator:    eval,
		Monitor:      mon,
		Recorder:     rec,
		Store:        h.store,
		Lease:        h.lease,
		Events:       h.events,
		Guard:        h.guard,
		Metrics:      m,
		Log:          lgr,
		WriteTimeout: time.Second,
	}
	return h
}

// worker returns a worker that already holds its lease.
func (h *harness) worker(t *testing.T) *SymbolWorker {
	t.Helper()
	w := NewSymbolWorker(testSymbol, h.deps)
	w.acquire(context.Background())
	require.True(t, w.leaseHeld)
	return w
}
