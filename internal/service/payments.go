package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"rentsaga/internal/external"
	"rentsaga/internal/logger"
	"rentsaga/internal/metrics"
	"rentsaga/internal/models"
	"rentsaga/internal/telemetry"
)

// PaymentWorker charges the gateway for each PaymentRequested message
type PaymentWorker struct {
	payments  PaymentStore
	gateway   external.Gateway
	publisher EventPublisher
	processed ProcessedMessages
}

// NewPaymentWorker creates a worker. processed may be nil, then every delivery
// is charged again.
func NewPaymentWorker(payments PaymentStore, gateway external.Gateway, publisher EventPublisher, processed ProcessedMessages) *PaymentWorker {
	return &PaymentWorker{
		payments:  payments,
		gateway:   gateway,
		publisher: publisher,
		processed: processed,
	}
}

// Process runs one payment attempt and publishes its result. It returns an
// error only when the result could not be published.
func (w *PaymentWorker) Process(ctx context.Context, messageID string, req models.PaymentRequested) error {
	ctx = logger.ContextWithBookingID(ctx, req.BookingID)
	ctx, span := telemetry.Tracer().Start(ctx, "PaymentWorker.Process")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", req.BookingID))
	log := logger.WithContext(ctx)

	if w.processed != nil {
		done, err := w.processed.IsProcessed(ctx, messageID)
		if err != nil {
			log.Warn("Failed to check processed marker, charging anyway", "error", err)
		} else if done {
			log.Info("Payment request already processed, skipping")
			return nil
		}
	}

	attempt := &models.PaymentAttempt{
		ID:          uuid.New().String(),
		BookingID:   req.BookingID,
		RequesterID: req.RequesterID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		MessageID:   messageID,
	}
	result := models.PaymentResult{BookingID: req.BookingID}

	charge, err := w.gateway.Charge(ctx, external.ChargeRequest{
		BookingID:      req.BookingID,
		RequesterID:    req.RequesterID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: messageID,
	})
	switch {
	case err != nil:
		w.fail(attempt, &result, fmt.Sprintf("payment gateway error: %v", err))
	case !charge.Approved:
		w.fail(attempt, &result, charge.DeclineReason)
	default:
		txID := charge.TransactionID
		attempt.Status = models.PaymentCompleted
		attempt.TransactionID = &txID
		result.Status = models.ResultSuccess
		result.TransactionID = txID
	}
	metrics.PaymentAttempts.WithLabelValues(string(attempt.Status)).Inc()

	// the attempt record is history only, the result message drives the booking
	if err := w.payments.Create(ctx, attempt); err != nil {
		log.Error("Failed to persist payment attempt", "error", err, "status", attempt.Status)
	}

	if err := w.publisher.Publish(ctx, models.QueuePaymentResults, models.MessagePaymentResult, result); err != nil {
		metrics.PublishFailures.WithLabelValues(models.QueuePaymentResults).Inc()
		return fmt.Errorf("failed to publish payment result: %w", err)
	}

	if w.processed != nil {
		if err := w.processed.MarkProcessed(ctx, messageID); err != nil {
			log.Warn("Failed to mark payment request processed", "error", err)
		}
	}

	log.Info("Payment attempt finished", "status", attempt.Status, "amount", req.Amount, "currency", req.Currency)
	return nil
}

func (w *PaymentWorker) fail(attempt *models.PaymentAttempt, result *models.PaymentResult, reason string) {
	attempt.Status = models.PaymentFailed
	attempt.ErrorMessage = &reason
	result.Status = models.ResultFailed
	result.ErrorMessage = reason
}
