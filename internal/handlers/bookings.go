package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rentsaga/internal/models"
)

// CreateBooking - POST /api/bookings
// Создать бронирование. Ответ 202: бронирование принято и ждет оплаты.
func (h *Handlers) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	booking, err := h.bookings.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to create booking")
		return
	}

	c.Header("Location", "/api/bookings/"+booking.ID)
	c.JSON(http.StatusAccepted, models.NewBookingResponse(booking))
}

// GetBooking - GET /api/bookings/:id
func (h *Handlers) GetBooking(c *gin.Context) {
	booking, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get booking")
		return
	}

	c.JSON(http.StatusOK, models.NewBookingResponse(booking))
}

// ListPaymentAttempts - GET /api/bookings/:id/payments
// История попыток оплаты бронирования
func (h *Handlers) ListPaymentAttempts(c *gin.Context) {
	attempts, err := h.bookings.PaymentAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to list payment attempts")
		return
	}

	c.JSON(http.StatusOK, attempts)
}

// ListBookings - GET /api/bookings?requester_id=
// Получить список бронирований заказчика
func (h *Handlers) ListBookings(c *gin.Context) {
	bookings, err := h.bookings.ListByRequester(c.Request.Context(), c.Query("requester_id"))
	if err != nil {
		respondError(c, err, "Failed to list bookings")
		return
	}

	response := make(models.ListBookingsResponse, 0, len(bookings))
	for i := range bookings {
		response = append(response, models.NewBookingResponse(&bookings[i]))
	}

	c.JSON(http.StatusOK, response)
}
