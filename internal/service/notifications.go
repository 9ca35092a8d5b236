package service

import (
	"context"

	"rentsaga/internal/logger"
	"rentsaga/internal/models"
)

// Notifier tells the requester that a booking was received
type Notifier interface {
	Notify(ctx context.Context, msg models.BookingCreated) error
}

// LogNotifier writes the notification to the log instead of sending it
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg models.BookingCreated) error {
	logger.WithContext(logger.ContextWithBookingID(ctx, msg.BookingID)).Info("Booking received notification",
		"contact", msg.RequesterContact,
		"item", msg.ItemSummary,
		"start_at", msg.StartAt,
		"end_at", msg.EndAt)
	return nil
}
