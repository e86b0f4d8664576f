package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	evaluations *prometheus.CounterVec
	created     *prometheus.CounterVec
	terminal    *prometheus.CounterVec
	active      *prometheus.GaugeVec
	paused      *prometheus.GaugeVec
	confidence  prometheus.Histogram
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New registers the engine metrics on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_evaluations_total",
			Help: "Evaluation cycles by symbol and outcome",
		}, []string{"symbol", "outcome"}),
		created: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_signals_created_total",
			Help: "Signals emitted",
		}, []string{"symbol", "direction"}),
		terminal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_signals_terminal_total",
			Help: "Signals that reached a terminal state",
		}, []string{"symbol", "state", "reason"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalflow_signal_active",
			Help: "1 while the symbol owns an ACTIVE signal",
		}, []string{"symbol"}),
		paused: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalflow_symbol_paused",
			Help: "1 while new-signal generation is paused for the symbol",
		}, []string{"symbol"}),
		confidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalflow_signal_confidence",
			Help:    "Confidence of emitted signals",
			Buckets: prometheus.LinearBuckets(0.70, 0.025, 11),
		}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalflow_last_price",
			Help: "Last observed price",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalflow_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordEvaluation(symbol, outcome string) {
	r.evaluations.WithLabelValues(symbol, outcome).Inc()
}

func (r *Recorder) RecordSignalCreated(symbol, direction string, confidence float64) {
	r.created.WithLabelValues(symbol, direction).Inc()
	r.confidence.Observe(confidence)
}

func (r *Recorder) RecordTerminal(symbol, state, reason string) {
	r.terminal.WithLabelValues(symbol, state, reason).Inc()
}

func (r *Recorder) SetActive(symbol string, active bool) {
	r.active.WithLabelValues(symbol).Set(boolGauge(active))
}

func (r *Recorder) SetPaused(symbol string, paused bool) {
	r.paused.WithLabelValues(symbol).Set(boolGauge(paused))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
