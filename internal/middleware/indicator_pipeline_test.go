package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopMetrics struct{}

func (nopMetrics) RecordEvaluation(string, string)             {}
func (nopMetrics) RecordSignalCreated(string, string, float64) {}
func (nopMetrics) RecordTerminal(string, string, string)       {}
func (nopMetrics) SetActive(string, bool)                      {}
func (nopMetrics) SetPaused(string, bool)                      {}
func (nopMetrics) RecordError(string)                          {}
func (nopMetrics) RecordLastPrice(string, float64)             {}
func (nopMetrics) RecordLatency(string, float64)               {}

type flakySink struct {
	mu     sync.Mutex
	fails  int
	stored []models.IndicatorSample
}

func (s *flakySink) Add(sample models.IndicatorSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("sink busy")
	}
	s.stored = append(s.stored, sample)
	return nil
}

func (s *flakySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func sample(sym string) models.IndicatorSample {
	return models.IndicatorSample{Symbol: sym, Timestamp: time.Now(), Metrics: map[string]float64{"rsi": 55}}
}

func TestPipelineRejectsInvalidSample(t *testing.T) {
	sink := &flakySink{}
	p := NewIndicatorPipeline(sink, nopMetrics{}, nil)

	bad := sample("BTCUSDT")
	bad.Metrics = nil
	err := p.Process(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidSample)
	assert.Zero(t, sink.count())
}

func TestPipelineDropsUnknownSymbols(t *testing.T) {
	sink := &flakySink{}
	p := NewIndicatorPipeline(sink, nopMetrics{}, nil,
		WithKnownSymbols(func(s string) bool { return s == "BTCUSDT" }))

	require.NoError(t, p.Process(context.Background(), sample("DOGEUSDT")))
	require.NoError(t, p.Process(context.Background(), sample("BTCUSDT")))
	assert.Equal(t, 1, sink.count())
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	sink := &flakySink{}
	p := NewIndicatorPipeline(sink, nopMetrics{}, nil, WithMaxRPS(1))

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(context.Background(), sample("BTCUSDT")))
	}
	require.NoError(t, p.Process(context.Background(), sample("ETHUSDT")))
	assert.Equal(t, 2, sink.count())
}

func TestPipelineAppliesTransform(t *testing.T) {
	sink := &flakySink{}
	p := NewIndicatorPipeline(sink, nopMetrics{}, nil, WithTransform(func(s models.IndicatorSample) models.IndicatorSample {
		s.Symbol = strings.ToUpper(s.Symbol)
		return s
	}))

	require.NoError(t, p.Process(context.Background(), sample("btcusdt")))
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "BTCUSDT", sink.stored[0].Symbol)
}

func TestPipelineRetriesBufferedSamples(t *testing.T) {
	sink := &flakySink{fails: 1}
	p := NewIndicatorPipeline(sink, nopMetrics{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, sample("BTCUSDT"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSample)

	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}
