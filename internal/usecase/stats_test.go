package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"SignalFlow/internal/domain/models"
	mid "SignalFlow/internal/middleware"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/internal/services/features"
	pkgkafka "SignalFlow/pkg/kafka"
	"SignalFlow/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(id string, state models.SignalState, pnl float64, at time.Time) models.OutcomeRecord {
	return models.OutcomeRecord{SignalID: id, Symbol: testSymbol, State: string(state), PnLPercent: pnl, TerminalAt: at}
}

func TestSummarizeWinRateExcludesUndecided(t *testing.T) {
	now := time.Now()
	st := Summarize("24h", []models.OutcomeRecord{
		outcome("a", models.StateWin, 2.1, now),
		outcome("b", models.StateLoss, -1.0, now),
		outcome("c", models.StateWin, 0.4, now),
		outcome("d", models.StateCancelled, 5, now),
		outcome("e", models.StateExpired, -5, now),
	})

	assert.Equal(t, "24h", st.Period)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 0.6667, st.WinRate)
	assert.Equal(t, 1.5, st.TotalPnL)
	assert.Equal(t, 0.3, st.AvgPnL)

	empty := Summarize("1h", nil)
	assert.Zero(t, empty.WinRate)
	assert.Zero(t, empty.AvgPnL)
}

func TestSummarizeCountsCancelledAndExpiredPnL(t *testing.T) {
	now := time.Now()
	st := Summarize("6h", []models.OutcomeRecord{
		outcome("a", models.StateWin, 1.0, now),
		outcome("b", models.StateCancelled, -2.0, now),
		outcome("c", models.StateExpired, -0.5, now),
	})

	assert.Equal(t, 1.0, st.WinRate)
	assert.Equal(t, -1.5, st.TotalPnL)
	assert.Equal(t, -0.5, st.AvgPnL)
}

func TestStatsReportSlicesPeriods(t *testing.T) {
	ledger := newMemLedger()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for _, r := range []models.OutcomeRecord{
		outcome("a", models.StateWin, 1, now.Add(-30*time.Minute)),
		outcome("b", models.StateLoss, -1, now.Add(-5*time.Hour)),
		outcome("c", models.StateWin, 3, now.Add(-48*time.Hour)),
		outcome("old", models.StateWin, 9, now.Add(-10*24*time.Hour)),
	} {
		_, err := ledger.Record(ctx, r)
		require.NoError(t, err)
	}

	s := NewStatsService(ledger, []string{"1h", "6h", "3d"})
	s.now = func() time.Time { return now }

	rep, err := s.Report(ctx, testSymbol)
	require.NoError(t, err)
	require.Len(t, rep.Periods, 3)
	assert.Equal(t, 1, rep.Periods[0].Total)
	assert.Equal(t, 2, rep.Periods[1].Total)
	assert.Equal(t, 0.5, rep.Periods[1].WinRate)
	assert.Equal(t, 3, rep.Periods[2].Total)
	assert.Equal(t, 3.0, rep.Periods[2].TotalPnL)

	st, err := s.Period(ctx, testSymbol, "6h")
	require.NoError(t, err)
	assert.Equal(t, rep.Periods[1], st)

	_, err = s.Period(ctx, testSymbol, "fortnight")
	assert.Error(t, err)
}

func TestReportSchedulerPublishesReport(t *testing.T) {
	ledger := newMemLedger()
	_, err := ledger.Record(context.Background(), outcome("a", models.StateWin, 1, time.Now()))
	require.NoError(t, err)
	events := &recordingEvents{}

	s := NewReportScheduler(NewStatsService(ledger, nil), events, 0, logger.Nop())
	s.Start(context.Background())
	s.RunOnce(context.Background())
	s.Stop()

	reports := events.ofType(models.EventReport)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Report)
	assert.Equal(t, 1, reports[0].Report.Periods[0].Total)
}

func newIndicatorHandler() (*IndicatorSamplesHandler, *features.Aggregator) {
	agg := features.NewAggregator(16, time.Hour)
	pipe := mid.NewIndicatorPipeline(agg, nopMetrics{}, ratelimit.New())
	return NewIndicatorSamplesHandler("indicators", pipe, nopMetrics{}), agg
}

func TestIndicatorHandlerFeedsAggregator(t *testing.T) {
	h, agg := newIndicatorHandler()
	assert.Equal(t, "indicators", h.Topic())

	at := time.Now().Add(-time.Second).UnixMilli()
	msg := []byte(`{"symbol":" btcusdt ","t":` + strconv.FormatInt(at, 10) + `,"metrics":{"flow_delta":1200,"rsi":61}}`)
	require.NoError(t, h.Handle(context.Background(), nil, msg))

	f, err := agg.Snapshot(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, f.Values["flow_delta"])
}

func TestIndicatorHandlerRejectsPermanently(t *testing.T) {
	h, _ := newIndicatorHandler()
	var perm *pkgkafka.PermanentError

	err := h.Handle(context.Background(), nil, []byte(`{not json`))
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, "bad_json", perm.Code)

	err = h.Handle(context.Background(), nil, []byte(`{"symbol":"BTCUSDT","t":1700000000,"metrics":{}}`))
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, "invalid_sample", perm.Code)
}

type capturePublisher struct {
	topic string
	value interface{}
}

func (c *capturePublisher) Publish(_ context.Context, topic string, _ []byte, value interface{}) error {
	c.topic, c.value = topic, value
	return nil
}

func TestLogDigestJobForwardsToTopic(t *testing.T) {
	pub := &capturePublisher{}
	job := NewLogDigestJob(pub, "engine-logs")
	assert.Equal(t, LogDigestType, job.Type())

	digest := logger.LogDigest{Total: 3}
	require.NoError(t, job.Handle(context.Background(), digest))
	assert.Equal(t, "engine-logs", pub.topic)
	got, ok := pub.value.(*logger.LogDigest)
	require.True(t, ok)
	assert.Equal(t, 3, got.Total)

	assert.Error(t, job.Handle(context.Background(), "garbage"))
}
