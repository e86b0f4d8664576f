package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/queue"
)

const notifyJobPrefix = "notify."

// NotificationDispatcher fans events out to notifiers through a queue, one
// message per notifier so a failing sink retries alone. Publish never blocks
// the caller and never reports failure to it.
type NotificationDispatcher struct {
	queue     queue.QueueService
	notifiers []domrepo.Notifier
	metrics   domrepo.Metrics
	log       *logger.Logger
	timeout   time.Duration
}

func NewNotificationDispatcher(q queue.QueueService, notifiers []domrepo.Notifier, metrics domrepo.Metrics, lgr *logger.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{queue: q, notifiers: notifiers, metrics: metrics, log: lgr, timeout: 500 * time.Millisecond}
}

// Jobs returns the queue jobs that deliver to each notifier.
func (d *NotificationDispatcher) Jobs() []queue.Job {
	jobs := make([]queue.Job, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		n := n
		jobs = append(jobs, queue.JobFunc{
			JobName: "notify_" + n.Name(),
			JobType: notifyJobPrefix + n.Name(),
			Fn: func(ctx context.Context, payload interface{}) error {
				ev, err := queue.ParsePayload[models.Event](payload)
				if err != nil {
					return fmt.Errorf("decode event: %w", err)
				}
				return n.Notify(ctx, ev)
			},
		})
	}
	return jobs
}

func (d *NotificationDispatcher) Publish(ctx context.Context, ev *models.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	for _, n := range d.notifiers {
		if err := d.queue.PublishMessage(pctx, notifyJobPrefix+n.Name(), ev); err != nil {
			d.metrics.RecordError("notify_enqueue")
			d.log.Warn("notification dropped",
				logger.String("notifier", n.Name()),
				logger.String("type", string(ev.Type)),
				logger.String("symbol", ev.Symbol),
				logger.Error(err))
		}
	}
}

var _ domrepo.EventPublisher = (*NotificationDispatcher)(nil)
