package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/util"

	"github.com/shopspring/decimal"
)

// StatsService summarizes ledger outcomes over the report periods.
type StatsService struct {
	ledger  domrepo.OutcomeLedger
	periods []string
	timeout time.Duration
	now     func() time.Time
}

func NewStatsService(ledger domrepo.OutcomeLedger, periods []string) *StatsService {
	if len(periods) == 0 {
		periods = util.ReportPeriods
	}
	return &StatsService{ledger: ledger, periods: periods, timeout: 10 * time.Second, now: time.Now}
}

// Summarize folds records into one PeriodStats. Win rate covers WIN and
// LOSS only; PnL sums the realized result of every record.
func Summarize(period string, recs []models.OutcomeRecord) models.PeriodStats {
	st := models.PeriodStats{Period: period, Total: len(recs)}
	total := decimal.Zero
	for _, r := range recs {
		switch models.SignalState(r.State) {
		case models.StateWin:
			st.Wins++
		case models.StateLoss:
			st.Losses++
		case models.StateCancelled:
			st.Cancelled++
		case models.StateExpired:
			st.Expired++
		}
		total = total.Add(decimal.NewFromFloat(r.PnLPercent))
	}
	if decided := st.Wins + st.Losses; decided > 0 {
		st.WinRate, _ = decimal.NewFromInt(int64(st.Wins)).
			Div(decimal.NewFromInt(int64(decided))).Round(4).Float64()
	}
	if st.Total > 0 {
		st.AvgPnL, _ = total.Div(decimal.NewFromInt(int64(st.Total))).Round(4).Float64()
	}
	st.TotalPnL, _ = total.Round(4).Float64()
	return st
}

// Period summarizes a single lookback such as "24h" or "3mo".
func (s *StatsService) Period(ctx context.Context, symbol, period string) (models.PeriodStats, error) {
	d, err := util.ParsePeriod(period)
	if err != nil {
		return models.PeriodStats{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	recs, err := s.ledger.Since(ctx, symbol, s.now().Add(-d))
	if err != nil {
		return models.PeriodStats{}, fmt.Errorf("ledger since: %w", err)
	}
	return Summarize(period, recs), nil
}

// Report reads the longest period once and slices it for the shorter ones.
// An empty symbol covers every symbol.
func (s *StatsService) Report(ctx context.Context, symbol string) (*models.StatsReport, error) {
	now := s.now()
	spans := make([]time.Duration, len(s.periods))
	var longest time.Duration
	for i, p := range s.periods {
		d, err := util.ParsePeriod(p)
		if err != nil {
			return nil, err
		}
		spans[i] = d
		if d > longest {
			longest = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	recs, err := s.ledger.Since(ctx, symbol, now.Add(-longest))
	if err != nil {
		return nil, fmt.Errorf("ledger since: %w", err)
	}

	rep := &models.StatsReport{GeneratedAt: now.UTC(), Symbol: symbol}
	for i, p := range s.periods {
		from := now.Add(-spans[i])
		var in []models.OutcomeRecord
		for _, r := range recs {
			if !r.TerminalAt.Before(from) {
				in = append(in, r)
			}
		}
		rep.Periods = append(rep.Periods, Summarize(p, in))
	}
	return rep, nil
}
