package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/logger"
	"rentsaga/internal/models"
)

// retryAfterSeconds is sent with 503 answers while the inventory is unreachable
const retryAfterSeconds = "30"

// BookingService is the part of the orchestrator the HTTP layer calls
type BookingService interface {
	Create(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	ListByRequester(ctx context.Context, requesterID string) ([]models.Booking, error)
	PaymentAttempts(ctx context.Context, id string) ([]models.PaymentAttempt, error)
}

type Handlers struct {
	bookings BookingService
}

func NewHandlers(bookings BookingService) *Handlers {
	return &Handlers{
		bookings: bookings,
	}
}

// respondError переводит доменные ошибки в HTTP статусы
func respondError(c *gin.Context, err error, msg string) {
	var ve *apperrors.ValidationError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, apperrors.ErrItemNotFound), errors.Is(err, apperrors.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, apperrors.ErrItemUnavailable), errors.Is(err, apperrors.ErrScheduleConflict):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, apperrors.ErrInventoryUnavailable):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "inventory is temporarily unavailable"})
	default:
		logger.WithContext(c.Request.Context()).Error(msg, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: msg})
		return
	}
	_ = c.Error(err)
}
