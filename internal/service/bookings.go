package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/logger"
	"rentsaga/internal/metrics"
	"rentsaga/internal/models"
	"rentsaga/internal/telemetry"
)

type BookingService struct {
	bookings  BookingStore
	inventory Inventory
	publisher EventPublisher
	payments  PaymentHistory
	policy    BookingPolicy
	now       func() time.Time
}

func NewBookingService(bookings BookingStore, inventory Inventory, publisher EventPublisher, policy BookingPolicy) *BookingService {
	return &BookingService{
		bookings:  bookings,
		inventory: inventory,
		publisher: publisher,
		policy:    policy,
		now:       time.Now,
	}
}

// Create validates the request, prices it, stores a pending booking and asks
// for payment. Publishing is best-effort: the stored booking is the result.
func (s *BookingService) Create(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "BookingService.Create")
	defer span.End()

	now := s.now().UTC()
	if err := validateCreateBooking(req, now); err != nil {
		metrics.BookingsCreated.WithLabelValues("invalid").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("item.id", req.ItemID))

	item, err := s.lookupItem(ctx, req.ItemID)
	if err != nil {
		metrics.BookingsCreated.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	if item.Status != models.ItemStatusAvailable {
		metrics.BookingsCreated.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: item %s is %s", apperrors.ErrItemUnavailable, item.ID, item.Status)
	}

	booking := &models.Booking{
		ID:             uuid.New().String(),
		RequesterID:    req.RequesterID,
		ItemID:         req.ItemID,
		StartAt:        req.StartAt.UTC(),
		EndAt:          req.EndAt.UTC(),
		TotalPrice:     CalculatePrice(req.StartAt, req.EndAt, item.PricePerDay),
		Currency:       item.Currency,
		Status:         models.BookingPending,
		PickupLocation: req.PickupLocation,
		ReturnLocation: req.ReturnLocation,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  models.PaymentPending,
	}
	if req.Notes != "" {
		notes := req.Notes
		booking.Notes = &notes
	}

	var pendingSince *time.Time
	if s.policy.HoldTTL > 0 {
		since := now.Add(-s.policy.HoldTTL)
		pendingSince = &since
	}

	if err := s.bookings.CreateIfNoConflict(ctx, booking, pendingSince); err != nil {
		if errors.Is(err, apperrors.ErrScheduleConflict) {
			metrics.BookingsCreated.WithLabelValues("conflict").Inc()
			return nil, err
		}
		metrics.BookingsCreated.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	ctx = logger.ContextWithBookingID(ctx, booking.ID)
	span.SetAttributes(attribute.String("booking.id", booking.ID))

	s.publish(ctx, models.QueueBookingNotifications, models.MessageBookingCreated, models.BookingCreated{
		BookingID:        booking.ID,
		RequesterContact: req.RequesterContact,
		ItemSummary:      item.Name,
		StartAt:          booking.StartAt,
		EndAt:            booking.EndAt,
	})
	s.publish(ctx, models.QueuePaymentRequests, models.MessagePaymentRequested, PaymentRequestFor(booking))

	metrics.BookingsCreated.WithLabelValues("created").Inc()
	logger.WithContext(ctx).Info("Booking created",
		"item_id", booking.ItemID,
		"total_price", booking.TotalPrice,
		"currency", booking.Currency)

	return booking, nil
}

func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, apperrors.ErrBookingNotFound
	}
	return booking, nil
}

// WithPaymentHistory enables PaymentAttempts. Without it bookings report no attempts.
func (s *BookingService) WithPaymentHistory(payments PaymentHistory) *BookingService {
	s.payments = payments
	return s
}

// PaymentAttempts returns the charge attempts recorded for a booking, oldest first
func (s *BookingService) PaymentAttempts(ctx context.Context, id string) ([]models.PaymentAttempt, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	attempts := []models.PaymentAttempt{}
	if s.payments == nil {
		return attempts, nil
	}
	found, err := s.payments.ListByBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	return append(attempts, found...), nil
}

func (s *BookingService) ListByRequester(ctx context.Context, requesterID string) ([]models.Booking, error) {
	if requesterID == "" {
		return nil, apperrors.NewValidationError("requester_id", "is required")
	}
	bookings, err := s.bookings.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

func (s *BookingService) lookupItem(ctx context.Context, itemID string) (*models.InventoryItem, error) {
	item, err := s.inventory.GetItem(ctx, itemID)
	switch {
	case err == nil && item == nil:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrItemNotFound, itemID)
	case err == nil:
		return item, nil
	case errors.Is(err, apperrors.ErrItemNotFound), errors.Is(err, apperrors.ErrInventoryUnavailable):
		return nil, err
	default:
		// anything else means we could not get an answer, never guess a price
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInventoryUnavailable, err)
	}
}

func (s *BookingService) publish(ctx context.Context, queue, msgType string, payload any) {
	if err := s.publisher.Publish(ctx, queue, msgType, payload); err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		logger.WithContext(ctx).Error("Failed to publish message",
			"error", err,
			"queue", queue,
			"message_type", msgType)
	}
}

// PaymentRequestFor builds the payment request message for a stored booking
func PaymentRequestFor(b *models.Booking) models.PaymentRequested {
	return models.PaymentRequested{
		BookingID:   b.ID,
		RequesterID: b.RequesterID,
		Amount:      b.TotalPrice,
		Currency:    b.Currency,
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrInventoryUnavailable):
		return "inventory_unreachable"
	default:
		return "error"
	}
}
