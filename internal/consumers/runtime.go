package consumers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/logger"
	"rentsaga/internal/messaging"
	"rentsaga/internal/metrics"
	"rentsaga/internal/telemetry"
)

// HandlerFunc processes one decoded message. A nil error acks it.
type HandlerFunc func(ctx context.Context, env *messaging.Envelope) error

// RetryPolicy controls what happens when a handler fails.
// MaxAttempts <= 0 means the message is requeued forever.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

type Options struct {
	Prefetch int
	Retry    RetryPolicy
	// OnDeadLetter is called after a message was moved to the dead-letter queue
	OnDeadLetter func(ctx context.Context, dl *messaging.DeadLetter)
}

// Runner drives handlers off a broker with manual acknowledgement
type Runner struct {
	broker         messaging.Broker
	publisher      *messaging.Publisher
	resubscribeGap time.Duration
}

func NewRunner(broker messaging.Broker, publisher *messaging.Publisher, resubscribeGap time.Duration) *Runner {
	if resubscribeGap <= 0 {
		resubscribeGap = time.Second
	}
	return &Runner{
		broker:         broker,
		publisher:      publisher,
		resubscribeGap: resubscribeGap,
	}
}

// Run consumes queue until ctx is cancelled. A closed delivery channel (lost
// connection) leads to a new subscription.
func (r *Runner) Run(ctx context.Context, queue string, handler HandlerFunc, opts Options) error {
	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	log := logger.WithFields("queue", queue)

	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, err := r.broker.Consume(ctx, queue, prefetch)
		if err != nil {
			log.Warn("Failed to start consuming, retrying", "error", err)
			if !sleepCtx(ctx, r.resubscribeGap) {
				return nil
			}
			continue
		}
		log.Info("Consumer started", "prefetch", prefetch)

		var wg sync.WaitGroup
		for i := 0; i < prefetch; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for d := range deliveries {
					r.process(ctx, queue, d, handler, opts)
				}
			}()
		}
		wg.Wait()

		if ctx.Err() != nil {
			log.Info("Consumer stopped")
			return nil
		}
		log.Warn("Delivery channel closed, resubscribing")
		if !sleepCtx(ctx, r.resubscribeGap) {
			return nil
		}
	}
}

func (r *Runner) process(ctx context.Context, queue string, d messaging.Delivery, handler HandlerFunc, opts Options) {
	// in-flight work finishes on shutdown, unprocessed messages stay on the broker
	workCtx := context.WithoutCancel(ctx)

	env, err := messaging.DecodeEnvelope(d.Body())
	if err != nil {
		r.deadLetter(workCtx, d, &messaging.DeadLetter{
			Queue:    queue,
			Reason:   "undecodable message",
			Error:    err.Error(),
			Attempts: 1,
			Raw:      d.Body(),
			FailedAt: time.Now().UTC(),
		}, opts)
		return
	}

	hctx := logger.ContextWithMessageID(env.Context(workCtx), env.ID)
	hctx, span := telemetry.Tracer().Start(hctx, "consume "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", env.ID),
			attribute.Int("messaging.attempt", env.Attempt),
		))
	defer span.End()

	start := time.Now()
	err = invoke(hctx, handler, env)
	metrics.HandlerDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			logger.WithContext(hctx).Warn("Failed to ack message", "queue", queue, "error", ackErr)
		}
		metrics.MessagesProcessed.WithLabelValues(queue, "ack").Inc()
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	attempts := env.Attempt + 1
	log := logger.WithContext(hctx).With("queue", queue, "attempt", attempts, "error", err)

	switch {
	case errors.Is(err, apperrors.ErrPermanent):
		r.deadLetter(hctx, d, &messaging.DeadLetter{
			Queue:    queue,
			Reason:   "permanent failure",
			Error:    err.Error(),
			Attempts: attempts,
			Envelope: env,
			FailedAt: time.Now().UTC(),
		}, opts)

	case opts.Retry.MaxAttempts <= 0:
		log.Warn("Handler failed, requeueing")
		r.requeue(hctx, queue, d)

	case attempts >= opts.Retry.MaxAttempts:
		r.deadLetter(hctx, d, &messaging.DeadLetter{
			Queue:    queue,
			Reason:   "max attempts reached",
			Error:    err.Error(),
			Attempts: attempts,
			Envelope: env,
			FailedAt: time.Now().UTC(),
		}, opts)

	default:
		log.Warn("Handler failed, scheduling retry")
		if !sleepCtx(ctx, opts.Retry.RetryDelay*time.Duration(attempts)) {
			r.requeue(hctx, queue, d)
			return
		}
		next := env.Next()
		if pubErr := r.publisher.PublishEnvelope(hctx, queue, &next); pubErr != nil {
			log.Error("Failed to republish message for retry", "publish_error", pubErr)
			r.requeue(hctx, queue, d)
			return
		}
		if ackErr := d.Ack(); ackErr != nil {
			log.Warn("Failed to ack message after republish", "ack_error", ackErr)
		}
		metrics.MessagesProcessed.WithLabelValues(queue, "retry").Inc()
	}
}

// deadLetter publishes dl and acks the delivery. If the dead-letter queue is
// unreachable the delivery is requeued instead.
func (r *Runner) deadLetter(ctx context.Context, d messaging.Delivery, dl *messaging.DeadLetter, opts Options) {
	log := logger.WithContext(ctx).With("queue", dl.Queue, "reason", dl.Reason, "attempts", dl.Attempts)

	if err := r.publisher.PublishDeadLetter(ctx, dl); err != nil {
		log.Error("Failed to dead-letter message, requeueing", "error", err)
		r.requeue(ctx, dl.Queue, d)
		return
	}
	if err := d.Ack(); err != nil {
		log.Warn("Failed to ack dead-lettered message", "error", err)
	}

	metrics.MessagesProcessed.WithLabelValues(dl.Queue, "dead_letter").Inc()
	log.Error("Message moved to dead-letter queue", "error", dl.Error)

	if opts.OnDeadLetter != nil {
		opts.OnDeadLetter(ctx, dl)
	}
}

func (r *Runner) requeue(ctx context.Context, queue string, d messaging.Delivery) {
	if err := d.Nack(true); err != nil {
		logger.WithContext(ctx).Warn("Failed to nack message", "queue", queue, "error", err)
	}
	metrics.MessagesProcessed.WithLabelValues(queue, "requeue").Inc()
}

func invoke(ctx context.Context, handler HandlerFunc, env *messaging.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, env)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
