package usecase

import (
	"context"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// ReportScheduler publishes an engine wide stats report on a fixed cadence.
type ReportScheduler struct {
	stats    *StatsService
	events   domrepo.EventPublisher
	interval time.Duration
	log      *logger.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewReportScheduler(stats *StatsService, events domrepo.EventPublisher, interval time.Duration, lgr *logger.Logger) *ReportScheduler {
	return &ReportScheduler{stats: stats, events: events, interval: interval, log: lgr}
}

// Start is a no-op when the interval is zero.
func (s *ReportScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

func (s *ReportScheduler) RunOnce(ctx context.Context) {
	rep, err := s.stats.Report(ctx, "")
	if err != nil {
		s.log.Warn("stats report failed", logger.Error(err))
		return
	}
	s.events.Publish(ctx, &models.Event{Type: models.EventReport, Report: rep})
}

func (s *ReportScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
