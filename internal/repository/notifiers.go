package repository

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	xhttp "SignalFlow/pkg/http"
	pkgkafka "SignalFlow/pkg/kafka"
	applogger "SignalFlow/pkg/logger"
)

// KafkaNotifier publishes events keyed by symbol so a consumer sees one
// symbol's events in order.
type KafkaNotifier struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaNotifier(producer *pkgkafka.Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, ev *models.Event) error {
	return n.producer.Publish(ctx, n.topic, []byte(ev.Symbol), ev)
}

// WebhookNotifier POSTs the event as JSON.
type WebhookNotifier struct {
	url    string
	client *xhttp.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, ev *models.Event) error {
	err := n.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     n.url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    ev,
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", ev.Type, err)
	}
	return nil
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	l *applogger.Logger
}

func NewLogNotifier(l *applogger.Logger) *LogNotifier { return &LogNotifier{l: l} }

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, ev *models.Event) error {
	fields := []applogger.Field{
		applogger.String("event", string(ev.Type)),
		applogger.String("symbol", ev.Symbol),
	}
	if ev.Signal != nil {
		s := ev.Signal
		fields = append(fields,
			applogger.String("signal_id", s.ID),
			applogger.String("direction", string(s.Direction)),
			applogger.String("state", string(s.State)),
			applogger.Float64("entry", s.EntryPrice),
			applogger.Float64("confidence", s.Confidence),
		)
		if s.TerminalReason != "" {
			fields = append(fields, applogger.String("reason", s.TerminalReason), applogger.Float64("exit", s.ExitPrice))
		}
	}
	if ev.Reason != "" {
		fields = append(fields, applogger.String("reason", ev.Reason))
	}
	if ev.Message != "" {
		fields = append(fields, applogger.String("message", ev.Message))
	}
	if ev.Report != nil {
		fields = append(fields, applogger.Any("periods", ev.Report.Periods))
	}
	switch ev.Level {
	case models.AlarmCritical:
		n.l.Error("engine event", fields...)
	case models.AlarmWarning:
		n.l.Warn("engine event", fields...)
	default:
		n.l.Info("engine event", fields...)
	}
	return nil
}

var (
	_ domrepo.Notifier = (*KafkaNotifier)(nil)
	_ domrepo.Notifier = (*WebhookNotifier)(nil)
	_ domrepo.Notifier = (*LogNotifier)(nil)
)
