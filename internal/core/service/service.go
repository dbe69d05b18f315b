package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

const (
	tracerName         = "github.com/rl1809/retail-floor/internal/core/service"
	DefaultHubLocation = "Store A"
)

// EventSink receives events after the transaction that produced them has
// committed.
type EventSink interface {
	Enqueue(ctx context.Context, events ...domain.Event)
}

type Option func(*options)

type options struct {
	logger                   *zap.Logger
	tracer                   trace.Tracer
	metrics                  port.Metrics
	clock                    port.Clock
	hubLocation              string
	atomicTransferCompletion bool
	newIdentifier            func() (string, error)
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func WithMetrics(metrics port.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

func WithClock(clock port.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithHubLocation sets the single location allowed to receive transfers and
// supply deliveries.
func WithHubLocation(location string) Option {
	return func(o *options) { o.hubLocation = location }
}

// WithAtomicTransferCompletion completes a transfer and its inventory item
// in one transaction instead of two dependent writes.
func WithAtomicTransferCompletion(enabled bool) Option {
	return func(o *options) { o.atomicTransferCompletion = enabled }
}

// WithIdentifierSource replaces the generator used for the unique
// identifier of minted inventory items.
func WithIdentifierSource(fn func() (string, error)) Option {
	return func(o *options) { o.newIdentifier = fn }
}

func newOptions(opts []Option) options {
	o := options{
		logger:        zap.NewNop(),
		tracer:        otel.Tracer(tracerName),
		metrics:       noopMetrics{},
		clock:         systemClock{},
		hubLocation:   DefaultHubLocation,
		newIdentifier: NewUniqueIdentifier,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, error, time.Duration) {}
func (noopMetrics) ObservePublish(domain.EventType, error)       {}

// base carries what every service needs to run one operation: the store, the
// post-commit event sink and the ambient instrumentation.
type base struct {
	store  port.LeaseStore
	events EventSink
	opts   options
}

func newBase(store port.LeaseStore, events EventSink, opts []Option) base {
	return base{store: store, events: events, opts: newOptions(opts)}
}

// run executes op and hands the events fn returns to the sink. fn must only
// return events describing committed state, so a failed operation normally
// returns none; a partially applied one returns the events for the part that
// did commit.
func (b *base) run(ctx context.Context, op string, fn func(ctx context.Context) ([]domain.Event, error)) error {
	start := time.Now()
	ctx, span := b.opts.tracer.Start(ctx, op)
	defer span.End()

	events, err := fn(ctx)
	b.opts.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if domain.Kind(err) == domain.ErrInternal {
			b.opts.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
		} else {
			b.opts.logger.Info("operation rejected", zap.String("op", op), zap.Error(err))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if len(events) > 0 && b.events != nil {
		b.events.Enqueue(ctx, events...)
	}
	return err
}

func (b *base) event(t domain.EventType, payload any) domain.Event {
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: b.opts.clock.Now(),
		Payload:    payload,
	}
}

func (b *base) now() time.Time {
	return b.opts.clock.Now()
}
