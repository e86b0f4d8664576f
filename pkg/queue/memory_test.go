package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"SignalFlow/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbol string `json:"symbol"`
}

func TestMemoryQueueDeliversAndRetries(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), QueueConfig{Workers: 1, QueueSize: 4, RetryLimit: 2, RetryDelay: 5 * time.Millisecond})

	var calls atomic.Int32
	done := make(chan string, 1)
	q.RegisterJob(JobFunc{JobName: "test", JobType: "t", Fn: func(ctx context.Context, p interface{}) error {
		if calls.Add(1) < 2 {
			return errors.New("transient")
		}
		v, err := ParsePayload[payload](p)
		if err != nil {
			return err
		}
		done <- v.Symbol
		return nil
	}})
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.PublishMessage(context.Background(), "t", payload{Symbol: "BTCUSDT"}))

	select {
	case s := <-done:
		assert.Equal(t, "BTCUSDT", s)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryQueuePublishNeverBlocks(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), QueueConfig{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	q.RegisterJob(JobFunc{JobName: "slow", JobType: "s", Fn: func(ctx context.Context, p interface{}) error {
		<-block
		return nil
	}})
	require.NoError(t, q.Start())
	defer func() {
		close(block)
		q.Stop(context.Background())
	}()

	var full bool
	for i := 0; i < 10; i++ {
		if err := q.PublishMessage(context.Background(), "s", i); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
	assert.Positive(t, q.Dropped())
}

func TestMemoryQueueRejectsWhenStopped(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), QueueConfig{})
	err := q.PublishMessage(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}
