package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"SignalFlow/pkg/logger"
)

// MemoryQueue is an in-process queue. PublishMessage never blocks: when the
// buffer is full the message is rejected with ErrQueueFull.
type MemoryQueue struct {
	logger  *logger.Logger
	config  QueueConfig
	jobs    map[string]Job
	mu      sync.RWMutex
	msgs    chan Message
	running atomic.Bool
	seq     atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewMemoryQueue(lgr *logger.Logger, config QueueConfig) *MemoryQueue {
	config.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		logger: lgr,
		config: config,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start() error {
	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("queue already running")
	}
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers), logger.Int("size", q.config.QueueSize))
	return nil
}

func (q *MemoryQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	if !q.running.Load() {
		return ErrNotRunning
	}
	msg := Message{
		ID:        strconv.FormatInt(q.seq.Add(1), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return q.offer(msg)
}

func (q *MemoryQueue) offer(msg Message) error {
	select {
	case q.msgs <- msg:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns how many messages were rejected because the buffer was full.
func (q *MemoryQueue) Dropped() int64 { return q.dropped.Load() }

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	err := job.Handle(q.ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if msg.Attempts >= q.config.RetryLimit {
		q.logger.Error("message dropped after retries",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		return
	}
	msg.Attempts++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTimer(q.config.RetryDelay)
		defer t.Stop()
		select {
		case <-q.ctx.Done():
		case <-t.C:
			if err := q.offer(msg); err != nil {
				q.logger.Warn("retry dropped", logger.String("id", msg.ID), logger.Error(err))
			}
		}
	}()
}

// Stop drains buffered messages until ctx expires, then stops workers.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	if !q.running.CompareAndSwap(true, false) {
		return nil
	}
	for len(q.msgs) > 0 {
		select {
		case <-ctx.Done():
			q.cancel()
			q.wg.Wait()
			return fmt.Errorf("timeout: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	q.cancel()
	q.wg.Wait()
	return nil
}
