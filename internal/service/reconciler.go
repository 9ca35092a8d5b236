package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/logger"
	"rentsaga/internal/metrics"
	"rentsaga/internal/models"
	"rentsaga/internal/telemetry"
)

// Reconciler moves pending bookings to their final state from payment results
type Reconciler struct {
	bookings BookingStore
}

func NewReconciler(bookings BookingStore) *Reconciler {
	return &Reconciler{bookings: bookings}
}

// Apply is idempotent: results for unknown or already settled bookings are
// dropped without error.
func (r *Reconciler) Apply(ctx context.Context, res models.PaymentResult) error {
	ctx = logger.ContextWithBookingID(ctx, res.BookingID)
	ctx, span := telemetry.Tracer().Start(ctx, "Reconciler.Apply")
	defer span.End()
	log := logger.WithContext(ctx).With("result", res.Status)

	booking, err := r.bookings.GetByID(ctx, res.BookingID)
	if err != nil {
		return fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		log.Warn("Payment result for unknown booking, dropping")
		metrics.Reconciliations.WithLabelValues("unknown_booking").Inc()
		return nil
	}
	if booking.Status.IsTerminal() {
		log.Info("Booking already settled, ignoring payment result", "status", booking.Status)
		metrics.Reconciliations.WithLabelValues("noop").Inc()
		return nil
	}

	var changed bool
	switch {
	case res.Succeeded():
		if res.TransactionID == "" {
			return apperrors.Permanent(errors.New("successful payment result without transaction id"))
		}
		changed, err = r.bookings.ConfirmPending(ctx, res.BookingID, res.TransactionID)
		if errors.Is(err, apperrors.ErrScheduleConflict) {
			// paid, but a confirmed booking took the slot meanwhile
			log.Warn("Payment captured for a booking that lost its slot, booking cancelled",
				"transaction_id", res.TransactionID)
			metrics.Reconciliations.WithLabelValues("conflict").Inc()
			return nil
		}
	case res.Status == models.ResultFailed:
		reason := res.ErrorMessage
		if reason == "" {
			reason = "payment failed"
		}
		changed, err = r.bookings.CancelPending(ctx, res.BookingID, reason)
	default:
		return apperrors.Permanent(fmt.Errorf("unknown payment result status %q", res.Status))
	}

	if errors.Is(err, apperrors.ErrBookingNotFound) {
		log.Warn("Booking disappeared before reconciliation, dropping")
		metrics.Reconciliations.WithLabelValues("unknown_booking").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply payment result: %w", err)
	}
	if !changed {
		log.Info("Booking settled concurrently, ignoring payment result")
		metrics.Reconciliations.WithLabelValues("noop").Inc()
		return nil
	}

	outcome := "cancelled"
	if res.Succeeded() {
		outcome = "confirmed"
	}
	metrics.Reconciliations.WithLabelValues(outcome).Inc()
	log.Info("Booking reconciled", "outcome", outcome)
	return nil
}
