package repository

import (
	"context"
	"fmt"

	"rentsaga/internal/database"
	"rentsaga/internal/models"
)

// PaymentRepository stores payment attempts. Attempts are append-only.
type PaymentRepository struct {
	db *database.DB
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (id, booking_id, requester_id, amount, currency, status,
		                              transaction_id, error_message, message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		attempt.ID,
		attempt.BookingID,
		attempt.RequesterID,
		attempt.Amount,
		attempt.Currency,
		attempt.Status,
		attempt.TransactionID,
		attempt.ErrorMessage,
		attempt.MessageID,
	).Scan(&attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}
	return nil
}

// ListByBooking returns the attempts for a booking, oldest first
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	if !validID(bookingID) {
		return attempts, nil
	}

	query := `
		SELECT id, booking_id, requester_id, amount, currency, status, transaction_id,
		       error_message, message_id, created_at
		FROM payment_attempts
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &attempts, query, bookingID); err != nil {
		return nil, err
	}
	return attempts, nil
}
