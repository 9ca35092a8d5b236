package jobs

import (
	"context"
	"log/slog"
	"time"

	"rentsaga/internal/logger"
	"rentsaga/internal/metrics"
	"rentsaga/internal/models"
	"rentsaga/internal/service"
)

const (
	sweepBatchSize    = 100
	holdExpiredReason = "payment not completed within hold"
)

// StalePendingStore is what the sweep needs from the bookings table
type StalePendingStore interface {
	GetStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error)
	MarkPaymentRequested(ctx context.Context, id string, at time.Time) error
	CancelPending(ctx context.Context, id, reason string) (bool, error)
}

// SweepResult counts what one pass did
type SweepResult struct {
	Republished int
	Expired     int
	Skipped     int
}

// PendingSweep re-requests payment for bookings stuck in pending and cancels
// the ones whose hold has run out.
type PendingSweep struct {
	bookings  StalePendingStore
	publisher service.EventPublisher
	policy    service.BookingPolicy
	now       func() time.Time
}

func NewPendingSweep(bookings StalePendingStore, publisher service.EventPublisher, policy service.BookingPolicy) *PendingSweep {
	return &PendingSweep{
		bookings:  bookings,
		publisher: publisher,
		policy:    policy,
		now:       time.Now,
	}
}

// Run sweeps every SweepInterval until ctx is cancelled
func (j *PendingSweep) Run(ctx context.Context) error {
	interval := j.policy.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	slog.Info("Starting pending sweep", "interval", interval, "hold_ttl", j.policy.HoldTTL, "republish_after", j.policy.RepublishAfter)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.SweepOnce(ctx); err != nil {
			slog.Error("Pending sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Pending sweep stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce handles one batch of stale pending bookings, oldest first
func (j *PendingSweep) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := j.now().UTC()

	threshold := j.policy.RepublishAfter
	if threshold <= 0 || (j.policy.HoldTTL > 0 && j.policy.HoldTTL < threshold) {
		threshold = j.policy.HoldTTL
	}
	if threshold <= 0 {
		return result, nil
	}

	stale, err := j.bookings.GetStalePending(ctx, now.Add(-threshold), sweepBatchSize)
	if err != nil {
		return result, err
	}
	if len(stale) == 0 {
		slog.Debug("No stale pending bookings found")
		return result, nil
	}

	for i := range stale {
		b := &stale[i]
		bctx := logger.ContextWithBookingID(ctx, b.ID)
		age := now.Sub(b.CreatedAt)

		switch {
		case j.policy.HoldTTL > 0 && age >= j.policy.HoldTTL:
			if j.expire(bctx, b) {
				result.Expired++
			}
		case j.dueForRepublish(b, now):
			if j.republish(bctx, b, now) {
				result.Republished++
			}
		default:
			result.Skipped++
		}
	}

	slog.Info("Pending sweep finished",
		"republished", result.Republished,
		"expired", result.Expired,
		"skipped", result.Skipped)
	return result, nil
}

func (j *PendingSweep) expire(ctx context.Context, b *models.Booking) bool {
	log := logger.WithContext(ctx)
	cancelled, err := j.bookings.CancelPending(ctx, b.ID, holdExpiredReason)
	if err != nil {
		log.Error("Failed to expire pending booking", "error", err)
		return false
	}
	if !cancelled {
		return false
	}
	metrics.SweepActions.WithLabelValues("expired").Inc()
	log.Info("Pending booking expired", "elapsed_time", j.now().Sub(b.CreatedAt).String())
	return true
}

// dueForRepublish spaces re-published requests at least RepublishAfter apart,
// counting from creation for the first one.
func (j *PendingSweep) dueForRepublish(b *models.Booking, now time.Time) bool {
	if j.policy.RepublishAfter <= 0 || b.PaymentRequests >= j.policy.MaxPaymentRequests {
		return false
	}
	last := b.CreatedAt
	if b.LastPaymentRequestAt != nil {
		last = *b.LastPaymentRequestAt
	}
	return now.Sub(last) >= j.policy.RepublishAfter
}

func (j *PendingSweep) republish(ctx context.Context, b *models.Booking, now time.Time) bool {
	log := logger.WithContext(ctx)
	err := j.publisher.Publish(ctx, models.QueuePaymentRequests, models.MessagePaymentRequested, service.PaymentRequestFor(b))
	if err != nil {
		metrics.PublishFailures.WithLabelValues(models.QueuePaymentRequests).Inc()
		log.Error("Failed to re-publish payment request", "error", err)
		return false
	}
	if err := j.bookings.MarkPaymentRequested(ctx, b.ID, now); err != nil {
		log.Warn("Failed to count payment request", "error", err)
	}
	metrics.SweepActions.WithLabelValues("republished").Inc()
	log.Info("Payment request re-published", "payment_requests", b.PaymentRequests+1)
	return true
}
