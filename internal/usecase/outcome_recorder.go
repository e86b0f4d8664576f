package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/services/composer"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/retry"
)

// OutcomeRecorder writes terminal signals to the ledger exactly once per id
// and feeds the confidence dispersion check.
type OutcomeRecorder struct {
	ledger     domrepo.OutcomeLedger
	policy     retry.Policy
	confidence *composer.ConfidenceMonitor
	guard      *AlarmGuard
	metrics    domrepo.Metrics
	log        *logger.Logger
}

func NewOutcomeRecorder(ledger domrepo.OutcomeLedger, policy retry.Policy, confidence *composer.ConfidenceMonitor, guard *AlarmGuard, metrics domrepo.Metrics, lgr *logger.Logger) *OutcomeRecorder {
	return &OutcomeRecorder{ledger: ledger, policy: policy, confidence: confidence, guard: guard, metrics: metrics, log: lgr}
}

// Record persists sig. It returns false when the ledger already held the id.
// The record's exit is sig.ExitPrice, the price at the transition instant.
func (r *OutcomeRecorder) Record(ctx context.Context, sig *models.Signal, rules *config.SymbolRules) (bool, error) {
	if !sig.State.Terminal() {
		return false, fmt.Errorf("record %s: state %s is not terminal", sig.ID, sig.State)
	}
	if !(sig.ExitPrice > 0) {
		return false, fmt.Errorf("record %s: no realized exit price", sig.ID)
	}
	rec := models.NewOutcomeRecord(sig)

	start := time.Now()
	inserted := false
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		ok, err := r.ledger.Record(ctx, rec)
		if err != nil {
			return err
		}
		inserted = ok
		return nil
	})
	r.metrics.RecordLatency("ledger_write", time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordError("ledger_write")
		return false, fmt.Errorf("record %s: %w", sig.ID, err)
	}
	if !inserted {
		r.log.Info("outcome already recorded", logger.String("signal_id", sig.ID))
		return false, nil
	}

	r.confidence.Add(sig.Confidence)
	if rules != nil {
		if rep := r.confidence.Check(rules); rep.Compressed {
			r.guard.Raise(ctx, "", models.AlarmWarning, "confidence_compressed",
				fmt.Sprintf("confidence dispersion over last %d signals: %s", rep.Count, strings.Join(rep.Findings, "; ")))
		}
	}
	return true, nil
}
