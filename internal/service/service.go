package service

import (
	"context"
	"time"

	"rentsaga/internal/external"
	"rentsaga/internal/models"
)

// BookingStore is the persistence the saga needs from the bookings table
type BookingStore interface {
	CreateIfNoConflict(ctx context.Context, booking *models.Booking, pendingSince *time.Time) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ListByRequester(ctx context.Context, requesterID string) ([]models.Booking, error)
	ConfirmPending(ctx context.Context, id, transactionID string) (bool, error)
	CancelPending(ctx context.Context, id, reason string) (bool, error)
}

// PaymentStore appends payment attempts
type PaymentStore interface {
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
}

// PaymentHistory lists recorded payment attempts of a booking
type PaymentHistory interface {
	ListByBooking(ctx context.Context, bookingID string) ([]models.PaymentAttempt, error)
}

// Inventory resolves rental items. Implementations return errors wrapping
// ErrItemNotFound or ErrInventoryUnavailable.
type Inventory interface {
	GetItem(ctx context.Context, id string) (*models.InventoryItem, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, queue, msgType string, payload any) error
}

// ProcessedMessages remembers payment requests whose result was already published
type ProcessedMessages interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// BookingPolicy holds the timing rules of the pending state
type BookingPolicy struct {
	// HoldTTL is how long a pending booking blocks its slot. Zero disables the hold.
	HoldTTL            time.Duration `mapstructure:"hold_ttl"`
	RepublishAfter     time.Duration `mapstructure:"republish_after"`
	MaxPaymentRequests int           `mapstructure:"max_payment_requests"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

type Services struct {
	Bookings   *BookingService
	Payments   *PaymentWorker
	Reconciler *Reconciler
}

func NewServices(bookings BookingStore, payments PaymentStore, inventory Inventory, gateway external.Gateway, publisher EventPublisher, processed ProcessedMessages, policy BookingPolicy) *Services {
	return &Services{
		Bookings:   NewBookingService(bookings, inventory, publisher, policy),
		Payments:   NewPaymentWorker(payments, gateway, publisher, processed),
		Reconciler: NewReconciler(bookings),
	}
}
