package usecase

import (
	"context"
	"fmt"

	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/queue"
)

// LogDigestType is the queue message type the log collector publishes under.
const LogDigestType = "engine.logs"

// TopicPublisher is the slice of the Kafka producer the digest job needs.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// NewLogDigestJob forwards error digests from the queue to a Kafka topic.
func NewLogDigestJob(producer TopicPublisher, topic string) queue.Job {
	return queue.JobFunc{
		JobName: "log-digest",
		JobType: LogDigestType,
		Fn: func(ctx context.Context, payload interface{}) error {
			d, err := queue.ParsePayload[logger.LogDigest](payload)
			if err != nil {
				return fmt.Errorf("decode log digest: %w", err)
			}
			return producer.Publish(ctx, topic, nil, d)
		},
	}
}
