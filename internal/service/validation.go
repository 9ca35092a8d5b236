package service

import (
	"strings"
	"time"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/models"
)

func validateCreateBooking(req *models.CreateBookingRequest, now time.Time) error {
	if req == nil {
		return apperrors.NewValidationError("", "request body is required")
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		return apperrors.NewValidationError("requester_id", "is required")
	}
	if strings.TrimSpace(req.ItemID) == "" {
		return apperrors.NewValidationError("item_id", "is required")
	}
	if req.StartAt.IsZero() {
		return apperrors.NewValidationError("start_at", "is required")
	}
	if req.EndAt.IsZero() {
		return apperrors.NewValidationError("end_at", "is required")
	}
	if !req.StartAt.Before(req.EndAt) {
		return apperrors.NewValidationError("end_at", "must be after start_at")
	}
	if req.StartAt.Before(now) {
		return apperrors.NewValidationError("start_at", "must not be in the past")
	}
	if strings.TrimSpace(req.PickupLocation) == "" {
		return apperrors.NewValidationError("pickup_location", "is required")
	}
	if strings.TrimSpace(req.ReturnLocation) == "" {
		return apperrors.NewValidationError("return_location", "is required")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return apperrors.NewValidationError("payment_method", "is required")
	}
	return nil
}

// CalculatePrice charges every started 24h period as a full day
func CalculatePrice(start, end time.Time, pricePerDay int64) int64 {
	const day = 24 * time.Hour
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	days := int64(d / day)
	if d%day != 0 {
		days++
	}
	return days * pricePerDay
}
