package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"rentsaga/internal/database"
	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/models"
)

const bookingColumns = `id, requester_id, item_id, start_at, end_at, total_price, currency, status,
	pickup_location, return_location, payment_method, payment_status, transaction_id,
	payment_error, notes, payment_requests, last_payment_request_at, created_at, updated_at`

// OverlapQuery selects bookings that hold an item during [Start, End).
// Pending bookings count only when created after PendingSince; a nil PendingSince
// means pending bookings never block.
type OverlapQuery struct {
	ItemID       string
	Start        time.Time
	End          time.Time
	PendingSince *time.Time
	ExcludeID    string
}

type BookingRepository struct {
	db *database.DB
}

func NewBookingRepository(db *database.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// CreateIfNoConflict inserts a booking unless an overlapping booking holds the item.
// The overlap check and the insert are serialised per item with an advisory lock.
func (r *BookingRepository) CreateIfNoConflict(ctx context.Context, booking *models.Booking, pendingSince *time.Time) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockItem(ctx, tx, booking.ItemID); err != nil {
			return err
		}

		existing, err := findOverlapping(ctx, tx, OverlapQuery{
			ItemID:       booking.ItemID,
			Start:        booking.StartAt,
			End:          booking.EndAt,
			PendingSince: pendingSince,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperrors.ErrScheduleConflict
		}

		query := `
			INSERT INTO bookings (id, requester_id, item_id, start_at, end_at, total_price, currency,
			                      status, pickup_location, return_location, payment_method,
			                      payment_status, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING created_at, updated_at`

		err = tx.QueryRowxContext(ctx, query,
			booking.ID,
			booking.RequesterID,
			booking.ItemID,
			booking.StartAt,
			booking.EndAt,
			booking.TotalPrice,
			booking.Currency,
			booking.Status,
			booking.PickupLocation,
			booking.ReturnLocation,
			booking.PaymentMethod,
			booking.PaymentStatus,
			booking.Notes,
		).Scan(&booking.CreatedAt, &booking.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		return nil
	})
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	// id колонка UUID, иначе postgres отвечает 22P02
	if !validID(id) {
		return nil, nil
	}

	booking := &models.Booking{}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.GetContext(ctx, booking, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return booking, nil
}

func (r *BookingRepository) ListByRequester(ctx context.Context, requesterID string) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE requester_id = $1
		ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &bookings, query, requesterID); err != nil {
		return nil, err
	}
	return bookings, nil
}

// ConfirmPending moves a pending booking to confirmed and records the transaction id.
// It returns false when the booking was no longer pending. If a confirmed or active
// booking overlaps by now, the booking is cancelled instead and ErrScheduleConflict
// is returned.
func (r *BookingRepository) ConfirmPending(ctx context.Context, id, transactionID string) (bool, error) {
	if !validID(id) {
		return false, apperrors.ErrBookingNotFound
	}

	var confirmed, conflict bool
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		confirmed, conflict = false, false

		var booking models.Booking
		err := tx.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		if booking.Status != models.BookingPending {
			return nil
		}

		if err := lockItem(ctx, tx, booking.ItemID); err != nil {
			return err
		}

		overlapping, err := findOverlapping(ctx, tx, OverlapQuery{
			ItemID:    booking.ItemID,
			Start:     booking.StartAt,
			End:       booking.EndAt,
			ExcludeID: booking.ID,
		})
		if err != nil {
			return err
		}

		if len(overlapping) > 0 {
			_, err := tx.ExecContext(ctx, `
				UPDATE bookings
				SET status = $1, payment_status = $2, transaction_id = $3, payment_error = $4, updated_at = NOW()
				WHERE id = $5`,
				models.BookingCancelled, models.PaymentCompleted, transactionID,
				apperrors.ErrScheduleConflict.Error(), id)
			if err != nil {
				return err
			}
			conflict = true
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE bookings
			SET status = $1, payment_status = $2, transaction_id = $3, updated_at = NOW()
			WHERE id = $4`,
			models.BookingConfirmed, models.PaymentCompleted, transactionID, id)
		if err != nil {
			return err
		}
		confirmed = true
		return nil
	})

	if err != nil {
		return false, err
	}
	if conflict {
		return false, apperrors.ErrScheduleConflict
	}
	return confirmed, nil
}

// CancelPending cancels a booking that is still pending and marks its payment failed.
// It returns false when the booking was not pending.
func (r *BookingRepository) CancelPending(ctx context.Context, id, reason string) (bool, error) {
	if !validID(id) {
		return false, apperrors.ErrBookingNotFound
	}

	query := `
		UPDATE bookings
		SET status = $1, payment_status = $2, payment_error = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`

	res, err := r.db.ExecContext(ctx, query,
		models.BookingCancelled, models.PaymentFailed, reason, id, models.BookingPending)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetStalePending returns pending bookings created before olderThan, oldest first
func (r *BookingRepository) GetStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &bookings, query, models.BookingPending, olderThan, limit); err != nil {
		return nil, err
	}
	return bookings, nil
}

// MarkPaymentRequested counts a re-published payment request sent at at
func (r *BookingRepository) MarkPaymentRequested(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE bookings
		SET payment_requests = payment_requests + 1, last_payment_request_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`

	_, err := r.db.ExecContext(ctx, query, id, at, models.BookingPending)
	return err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func lockItem(ctx context.Context, tx *sqlx.Tx, itemID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, itemID); err != nil {
		return fmt.Errorf("failed to lock item %s: %w", itemID, err)
	}
	return nil
}

func findOverlapping(ctx context.Context, q sqlx.QueryerContext, oq OverlapQuery) ([]models.Booking, error) {
	var pendingSince sql.NullTime
	if oq.PendingSince != nil {
		pendingSince = sql.NullTime{Time: *oq.PendingSince, Valid: true}
	}

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE item_id = $1
		  AND start_at < $2
		  AND end_at > $3
		  AND ($4 = '' OR id::text <> $4)
		  AND (status IN ($5, $6)
		       OR (status = $7 AND $8::timestamptz IS NOT NULL AND created_at > $8))`

	var bookings []models.Booking
	err := sqlx.SelectContext(ctx, q, &bookings, query,
		oq.ItemID, oq.End, oq.Start, oq.ExcludeID,
		models.BookingConfirmed, models.BookingActive,
		models.BookingPending, pendingSince)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping bookings: %w", err)
	}
	return bookings, nil
}
