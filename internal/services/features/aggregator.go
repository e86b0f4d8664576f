package features

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
)

// Known metric names.
const (
	MetricFlowDelta     = "flow_delta"
	MetricVolume        = "volume"
	MetricVolumeRatio   = "volume_ratio"
	MetricOpenInterest  = "open_interest"
	MetricOIChange      = "oi_change"
	MetricOIChangePct   = "oi_change_pct"
	MetricVWAPDeviation = "vwap_deviation"
	MetricRSI           = "rsi"
	MetricPrice         = "price"
	MetricATR           = "atr"
)

type Reducer string

const (
	ReduceSum    Reducer = "sum"
	ReduceAvg    Reducer = "avg"
	ReduceLatest Reducer = "latest"
)

var defaultKinds = map[string]Reducer{
	MetricFlowDelta:     ReduceSum,
	MetricVolume:        ReduceSum,
	MetricOIChange:      ReduceSum,
	MetricOIChangePct:   ReduceSum,
	MetricVolumeRatio:   ReduceAvg,
	MetricVWAPDeviation: ReduceAvg,
	MetricRSI:           ReduceAvg,
	MetricOpenInterest:  ReduceLatest,
	MetricPrice:         ReduceLatest,
	MetricATR:           ReduceLatest,
}

// Aggregator buffers recent samples per symbol and reduces them on demand.
// Unknown metrics are averaged.
type Aggregator struct {
	mu        sync.RWMutex
	buffers   map[string]*sampleBuffer
	kinds     map[string]Reducer
	capacity  int
	staleness time.Duration
	now       func() time.Time
}

type sampleBuffer struct {
	mu      sync.Mutex
	samples []models.IndicatorSample
}

type AggregatorOption func(*Aggregator)

func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithMetricKinds overrides reducers by metric name.
func WithMetricKinds(kinds map[string]string) AggregatorOption {
	return func(a *Aggregator) {
		for k, v := range kinds {
			a.kinds[k] = Reducer(v)
		}
	}
}

func NewAggregator(capacity int, staleness time.Duration, opts ...AggregatorOption) *Aggregator {
	if capacity < 2 {
		capacity = 2
	}
	a := &Aggregator{
		buffers:   make(map[string]*sampleBuffer),
		kinds:     make(map[string]Reducer, len(defaultKinds)),
		capacity:  capacity,
		staleness: staleness,
		now:       time.Now,
	}
	for k, v := range defaultKinds {
		a.kinds[k] = v
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) buffer(symbol string, create bool) *sampleBuffer {
	a.mu.RLock()
	b := a.buffers[symbol]
	a.mu.RUnlock()
	if b != nil || !create {
		return b
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if b = a.buffers[symbol]; b == nil {
		b = &sampleBuffer{}
		a.buffers[symbol] = b
	}
	return b
}

// Add stores a copy of the sample. Out-of-order samples are inserted in
// timestamp order; the oldest sample is evicted when the buffer is full.
func (a *Aggregator) Add(s models.IndicatorSample) error {
	if !s.Valid() {
		return fmt.Errorf("invalid sample for %q", s.Symbol)
	}
	metrics := make(map[string]float64, len(s.Metrics))
	for k, v := range s.Metrics {
		metrics[k] = v
	}
	s.Metrics = metrics

	b := a.buffer(s.Symbol, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	i := sort.Search(len(b.samples), func(i int) bool { return b.samples[i].Timestamp.After(s.Timestamp) })
	b.samples = append(b.samples, models.IndicatorSample{})
	copy(b.samples[i+1:], b.samples[i:])
	b.samples[i] = s
	if over := len(b.samples) - a.capacity; over > 0 {
		b.samples = append(b.samples[:0], b.samples[over:]...)
	}
	return nil
}

// qualifying returns samples inside the window that are not stale.
func (a *Aggregator) qualifying(symbol string, window time.Duration) []models.IndicatorSample {
	b := a.buffer(symbol, false)
	if b == nil {
		return nil
	}
	now := a.now()
	cutoff := now.Add(-window)
	if a.staleness > 0 && now.Add(-a.staleness).After(cutoff) {
		cutoff = now.Add(-a.staleness)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := sort.Search(len(b.samples), func(i int) bool { return !b.samples[i].Timestamp.Before(cutoff) })
	out := make([]models.IndicatorSample, 0, len(b.samples)-i)
	for _, s := range b.samples[i:] {
		if s.Timestamp.After(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Aggregate reduces the window for symbol. It returns ErrDataInsufficient
// when fewer than two qualifying samples remain; that is not a zero reading.
func (a *Aggregator) Aggregate(symbol string, window time.Duration) (*models.AggregatedFeatures, error) {
	samples := a.qualifying(symbol, window)
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: %s has %d samples in %s", models.ErrDataInsufficient, symbol, len(samples), window)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	latest := make(map[string]float64)
	firstOI, lastOI, haveOI := 0.0, 0.0, false
	prices := make([]float64, 0, len(samples))

	for _, s := range samples {
		for k, v := range s.Metrics {
			sums[k] += v
			counts[k]++
			latest[k] = v
		}
		if oi, ok := s.Metrics[MetricOpenInterest]; ok {
			if !haveOI {
				firstOI = oi
				haveOI = true
			}
			lastOI = oi
		}
		if p, ok := s.Metrics[MetricPrice]; ok && p > 0 {
			prices = append(prices, p)
		}
	}

	values := make(map[string]float64, len(sums)+2)
	for k, sum := range sums {
		switch a.kind(k) {
		case ReduceSum:
			values[k] = sum
		case ReduceLatest:
			values[k] = latest[k]
		default:
			values[k] = sum / float64(counts[k])
		}
	}
	if haveOI && counts[MetricOpenInterest] >= 2 {
		if _, supplied := values[MetricOIChange]; !supplied {
			values[MetricOIChange] = lastOI - firstOI
		}
		if _, supplied := values[MetricOIChangePct]; !supplied && firstOI != 0 {
			values[MetricOIChangePct] = (lastOI - firstOI) / firstOI * 100
		}
	}

	return &models.AggregatedFeatures{
		Symbol:      symbol,
		WindowStart: samples[0].Timestamp,
		WindowEnd:   samples[len(samples)-1].Timestamp,
		Values:      values,
		SampleCount: len(samples),
		Prices:      prices,
	}, nil
}

// Snapshot returns the latest single sample as features. Derived metrics
// that need two points are absent so they fail closed in scoring.
func (a *Aggregator) Snapshot(symbol string) (*models.AggregatedFeatures, error) {
	b := a.buffer(symbol, false)
	if b == nil {
		return nil, fmt.Errorf("%w: no samples for %s", models.ErrDataInsufficient, symbol)
	}
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: no samples for %s", models.ErrDataInsufficient, symbol)
	}
	last := b.samples[len(b.samples)-1]
	b.mu.Unlock()

	if a.staleness > 0 && a.now().Sub(last.Timestamp) > a.staleness {
		return nil, fmt.Errorf("%w: latest sample for %s at %s", models.ErrDataStale, symbol, last.Timestamp.Format(time.RFC3339))
	}
	values := make(map[string]float64, len(last.Metrics))
	for k, v := range last.Metrics {
		values[k] = v
	}
	var prices []float64
	if p, ok := values[MetricPrice]; ok && p > 0 {
		prices = []float64{p}
	}
	return &models.AggregatedFeatures{
		Symbol:      symbol,
		WindowStart: last.Timestamp,
		WindowEnd:   last.Timestamp,
		Values:      values,
		SampleCount: 1,
		Snapshot:    true,
		Prices:      prices,
	}, nil
}

// Features aggregates the window and falls back to Snapshot when the
// window is insufficient.
func (a *Aggregator) Features(symbol string, window time.Duration) (*models.AggregatedFeatures, error) {
	f, err := a.Aggregate(symbol, window)
	if err == nil {
		return f, nil
	}
	return a.Snapshot(symbol)
}

// Symbols lists symbols with buffered samples.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.buffers))
	for s := range a.buffers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (a *Aggregator) kind(metric string) Reducer {
	if k, ok := a.kinds[metric]; ok {
		return k
	}
	return ReduceAvg
}
