package service

import (
	"time"

	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/config"
)

// FeatureSource reduces buffered indicator samples for a symbol.
type FeatureSource interface {
	Aggregate(symbol string, window time.Duration) (*models.AggregatedFeatures, error)
	Snapshot(symbol string) (*models.AggregatedFeatures, error)
	Features(symbol string, window time.Duration) (*models.AggregatedFeatures, error)
}

// Scorer evaluates a direction against features. The threshold is passed
// explicitly so rechecks can reuse the one captured at generation time.
type Scorer interface {
	Score(dir models.Direction, f *models.AggregatedFeatures, rules *config.SymbolRules, threshold float64) models.ScoreResult
	Decide(f *models.AggregatedFeatures, rules *config.SymbolRules) models.Decision
}

// Composer turns an accepted score into a signal.
type Composer interface {
	Compose(in models.ComposeInput, rules *config.SymbolRules) (*models.Signal, error)
}
