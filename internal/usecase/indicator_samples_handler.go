package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	mid "SignalFlow/internal/middleware"
	pkgkafka "SignalFlow/pkg/kafka"
	"SignalFlow/pkg/util"
)

// IndicatorSamplesHandler consumes indicator samples from Kafka and feeds
// them through the ingest pipeline.
type IndicatorSamplesHandler struct {
	topic   string
	pipe    *mid.IndicatorPipeline
	metrics domrepo.Metrics
}

func NewIndicatorSamplesHandler(topic string, pipe *mid.IndicatorPipeline, metrics domrepo.Metrics) *IndicatorSamplesHandler {
	return &IndicatorSamplesHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *IndicatorSamplesHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, metrics}; t in seconds or ms
func (h *IndicatorSamplesHandler) Handle(ctx context.Context, _, b []byte) error {
	var m struct {
		Symbol  string             `json:"symbol"`
		T       int64              `json:"t"`
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &pkgkafka.PermanentError{Code: "bad_json", Err: err}
	}
	ts := time.Unix(m.T, 0)
	if m.T > 1e11 {
		ts = time.UnixMilli(m.T)
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	err := h.pipe.Process(ctx, models.IndicatorSample{
		Symbol:    util.NormalizeSymbol(m.Symbol),
		Timestamp: ts.UTC(),
		Metrics:   m.Metrics,
	})
	if errors.Is(err, mid.ErrInvalidSample) {
		return &pkgkafka.PermanentError{Code: "invalid_sample", Err: err}
	}
	// downstream failures are buffered and retried by the pipeline
	return nil
}

var _ pkgkafka.MessageHandler = (*IndicatorSamplesHandler)(nil)
