package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

const (
	defaultPublishAttempts = 3
	defaultPublishTimeout  = 5 * time.Second
	defaultRetryBackoff    = 100 * time.Millisecond
)

// EventRelay decouples request handling from notification delivery. Events
// are queued after commit and published by a pool of workers, retrying a
// bounded number of times. A lost event only delays observers.
type EventRelay struct {
	notifier port.Notifier
	logger   *zap.Logger
	metrics  port.Metrics
	queue    chan domain.Event

	attempts int
	backoff  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventRelay(notifier port.Notifier, queueSize int, logger *zap.Logger, metrics port.Metrics) *EventRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &EventRelay{
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan domain.Event, queueSize),
		attempts: defaultPublishAttempts,
		backoff:  defaultRetryBackoff,
	}
}

// Start launches the publishing workers.
func (r *EventRelay) Start(workers int) {
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			r.workerLoop(id)
		}(i)
	}
}

// Enqueue blocks while the queue is full unless ctx ends first, in which
// case the event is dropped and logged.
func (r *EventRelay) Enqueue(ctx context.Context, events ...domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("event relay closed, dropping events", zap.Int("count", len(events)))
		return
	}
	for _, e := range events {
		select {
		case r.queue <- e:
		case <-ctx.Done():
			r.logger.Warn("dropping event",
				zap.String("event_id", e.ID),
				zap.String("type", string(e.Type)),
				zap.Error(ctx.Err()),
			)
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (r *EventRelay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *EventRelay) workerLoop(id int) {
	for e := range r.queue {
		r.publish(id, e)
	}
}

func (r *EventRelay) publish(worker int, e domain.Event) {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		err = r.notifier.Publish(ctx, e)
		cancel()
		r.metrics.ObservePublish(e.Type, err)
		if err == nil {
			return
		}
		r.logger.Warn("publish failed",
			zap.Int("worker", worker),
			zap.Int("attempt", attempt),
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
		if attempt < r.attempts {
			time.Sleep(r.backoff * time.Duration(attempt))
		}
	}
	r.logger.Error("giving up on event",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.Error(err),
	)
}
