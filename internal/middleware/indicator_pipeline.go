package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/service/ratelimit"
)

// ErrInvalidSample marks a sample that can never be accepted.
var ErrInvalidSample = errors.New("invalid indicator sample")

// Sink is the minimal downstream the pipeline needs.
type Sink interface {
	Add(s models.IndicatorSample) error
}

// IndicatorPipeline sits between the indicator consumer and the aggregator.
// It validates, drops unknown symbols, throttles per symbol, and buffers
// samples the sink refused so they can be retried.
type IndicatorPipeline struct {
	sink    Sink
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	maxRPS  int
	bufSize int
	bufCh   chan models.IndicatorSample
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	known   func(symbol string) bool
	// optional rewrite of incoming samples, e.g. symbol aliases
	transform func(models.IndicatorSample) models.IndicatorSample
}

type PipelineOption func(*IndicatorPipeline)

// WithMaxRPS sets the max samples per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IndicatorPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *IndicatorPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithKnownSymbols drops samples for symbols the predicate rejects.
func WithKnownSymbols(fn func(string) bool) PipelineOption {
	return func(p *IndicatorPipeline) { p.known = fn }
}

// WithTransform sets a hook that rewrites samples before validation.
func WithTransform(fn func(models.IndicatorSample) models.IndicatorSample) PipelineOption {
	return func(p *IndicatorPipeline) { p.transform = fn }
}

func NewIndicatorPipeline(sink Sink, metrics domrepo.Metrics, limiter *ratelimit.Limiter, opts ...PipelineOption) *IndicatorPipeline {
	p := &IndicatorPipeline{
		sink:    sink,
		metrics: metrics,
		limiter: limiter,
		maxRPS:  50,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limiter == nil {
		p.limiter = ratelimit.New()
	}
	p.bufCh = make(chan models.IndicatorSample, p.bufSize)
	return p
}

// Start launches background retry of buffered samples.
func (p *IndicatorPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case s := <-p.bufCh:
				if err := p.sink.Add(s); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- s:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

func (p *IndicatorPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, filters, throttles and forwards one sample.
// Throttled and unknown-symbol samples are dropped without error.
func (p *IndicatorPipeline) Process(ctx context.Context, s models.IndicatorSample) error {
	start := time.Now()
	if p.transform != nil {
		s = p.transform(s)
	}
	if !s.Valid() {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("%w for %q", ErrInvalidSample, s.Symbol)
	}
	if p.known != nil && !p.known(s.Symbol) {
		p.metrics.RecordError("pipeline_unknown_symbol")
		return nil
	}
	if !p.limiter.Allow("ingest:"+s.Symbol, float64(p.maxRPS), float64(p.maxRPS)) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.Add(s); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- s:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}
