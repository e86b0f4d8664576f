package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(sym string, at time.Time, kv map[string]float64) models.IndicatorSample {
	return models.IndicatorSample{Symbol: sym, Timestamp: at, Metrics: kv}
}

func newTestAggregator(now time.Time) *Aggregator {
	return NewAggregator(64, 10*time.Minute, WithClock(func() time.Time { return now }))
}

func TestAggregateReducers(t *testing.T) {
	a := newTestAggregator(t0)
	require.NoError(t, a.Add(sample("BTC", t0.Add(-3*time.Minute), map[string]float64{
		MetricFlowDelta: 100, MetricOpenInterest: 1000, MetricVWAPDeviation: 0.002, MetricRSI: 60, MetricPrice: 100,
	})))
	require.NoError(t, a.Add(sample("BTC", t0.Add(-1*time.Minute), map[string]float64{
		MetricFlowDelta: 50, MetricOpenInterest: 1100, MetricVWAPDeviation: 0.004, MetricRSI: 70, MetricPrice: 101,
	})))
	// out of order insert lands in the middle
	require.NoError(t, a.Add(sample("BTC", t0.Add(-2*time.Minute), map[string]float64{
		MetricFlowDelta: -30, MetricOpenInterest: 1050, MetricVWAPDeviation: 0.003, MetricRSI: 65, MetricPrice: 100.5,
	})))

	f, err := a.Aggregate("BTC", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, f.SampleCount)
	assert.False(t, f.Snapshot)

	assert.InDelta(t, 120, f.Values[MetricFlowDelta], 1e-9)
	assert.InDelta(t, 1100, f.Values[MetricOpenInterest], 1e-9)
	assert.InDelta(t, 0.003, f.Values[MetricVWAPDeviation], 1e-12)
	assert.InDelta(t, 65, f.Values[MetricRSI], 1e-9)
	assert.InDelta(t, 100, f.Values[MetricOIChange], 1e-9)
	assert.InDelta(t, 10, f.Values[MetricOIChangePct], 1e-9)
	assert.Equal(t, []float64{100, 100.5, 101}, f.Prices)
	assert.Equal(t, t0.Add(-3*time.Minute), f.WindowStart)
	assert.Equal(t, t0.Add(-time.Minute), f.WindowEnd)
}

func TestAggregateExcludesStaleAndOutOfWindow(t *testing.T) {
	a := NewAggregator(64, 2*time.Minute, WithClock(func() time.Time { return t0 }))
	require.NoError(t, a.Add(sample("ETH", t0.Add(-4*time.Minute), map[string]float64{MetricFlowDelta: 1000})))
	require.NoError(t, a.Add(sample("ETH", t0.Add(-90*time.Second), map[string]float64{MetricFlowDelta: 1})))
	require.NoError(t, a.Add(sample("ETH", t0.Add(-30*time.Second), map[string]float64{MetricFlowDelta: 2})))

	f, err := a.Aggregate("ETH", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, f.SampleCount)
	assert.InDelta(t, 3, f.Values[MetricFlowDelta], 1e-9)
}

func TestAggregateSingleSampleFallsBackToSnapshot(t *testing.T) {
	a := newTestAggregator(t0)
	require.NoError(t, a.Add(sample("SOL", t0.Add(-time.Minute), map[string]float64{
		MetricFlowDelta: 5, MetricOpenInterest: 10, MetricPrice: 20,
	})))

	_, err := a.Aggregate("SOL", 5*time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDataInsufficient))

	f, err := a.Features("SOL", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, f.Snapshot)
	assert.Equal(t, 1, f.SampleCount)
	assert.InDelta(t, 5, f.Values[MetricFlowDelta], 1e-9)
	_, ok := f.Value(MetricOIChange)
	assert.False(t, ok, "derived change needs two points")
}

func TestSnapshotStale(t *testing.T) {
	a := newTestAggregator(t0)
	require.NoError(t, a.Add(sample("SOL", t0.Add(-time.Hour), map[string]float64{MetricFlowDelta: 5})))
	_, err := a.Features("SOL", 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrDataStale)

	_, err = a.Features("DOGE", 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrDataInsufficient)
}

func TestAddRejectsInvalidAndEvicts(t *testing.T) {
	a := NewAggregator(2, time.Hour, WithClock(func() time.Time { return t0 }))
	assert.Error(t, a.Add(sample("BTC", t0, map[string]float64{MetricRSI: math.NaN()})))
	assert.Error(t, a.Add(sample("", t0, map[string]float64{MetricRSI: 1})))

	for i := 3; i >= 1; i-- {
		require.NoError(t, a.Add(sample("BTC", t0.Add(-time.Duration(i)*time.Minute), map[string]float64{MetricFlowDelta: float64(i)})))
	}
	f, err := a.Aggregate("BTC", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, f.SampleCount)
	assert.InDelta(t, 3, f.Values[MetricFlowDelta], 1e-9)
}

func TestMetricKindsOverride(t *testing.T) {
	a := NewAggregator(8, time.Hour, WithClock(func() time.Time { return t0 }), WithMetricKinds(map[string]string{MetricRSI: "latest"}))
	require.NoError(t, a.Add(sample("BTC", t0.Add(-2*time.Minute), map[string]float64{MetricRSI: 40})))
	require.NoError(t, a.Add(sample("BTC", t0.Add(-time.Minute), map[string]float64{MetricRSI: 60})))
	f, err := a.Aggregate("BTC", time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 60, f.Values[MetricRSI], 1e-9)
}

func TestVolatilityFallback(t *testing.T) {
	f := &models.AggregatedFeatures{Symbol: "BTC", Values: map[string]float64{MetricATR: 2.5}}
	v, err := Volatility(f)
	require.NoError(t, err)
	assert.Equal(t, "atr", v.Source)
	assert.InDelta(t, 2.5, v.ATR, 1e-12)

	f = &models.AggregatedFeatures{Symbol: "BTC", Values: map[string]float64{}, Prices: []float64{100, 101, 100.5, 102, 101}}
	v, err = Volatility(f)
	require.NoError(t, err)
	assert.Equal(t, "realized", v.Source)
	assert.Greater(t, v.ATR, 0.0)

	f = &models.AggregatedFeatures{Symbol: "BTC", Values: map[string]float64{}, Prices: []float64{100}}
	_, err = Volatility(f)
	assert.ErrorIs(t, err, models.ErrDataInsufficient)
}
