package models

import "time"

// API Request/Response models

// CreateBookingRequest - POST /api/bookings
type CreateBookingRequest struct {
	RequesterID      string    `json:"requester_id"`
	RequesterContact string    `json:"requester_contact,omitempty"`
	ItemID           string    `json:"item_id"`
	StartAt          time.Time `json:"start_at"`
	EndAt            time.Time `json:"end_at"`
	PickupLocation   string    `json:"pickup_location"`
	ReturnLocation   string    `json:"return_location"`
	PaymentMethod    string    `json:"payment_method"`
	Notes            string    `json:"notes,omitempty"`
}

// BookingPayment is the payment sub-record as exposed by the API
type BookingPayment struct {
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// BookingResponse - GET /api/bookings/:id
type BookingResponse struct {
	ID             string         `json:"id"`
	RequesterID    string         `json:"requester_id"`
	ItemID         string         `json:"item_id"`
	StartAt        time.Time      `json:"start_at"`
	EndAt          time.Time      `json:"end_at"`
	TotalPrice     int64          `json:"total_price"`
	Currency       string         `json:"currency"`
	Status         BookingStatus  `json:"status"`
	PickupLocation string         `json:"pickup_location"`
	ReturnLocation string         `json:"return_location"`
	Payment        BookingPayment `json:"payment"`
	Notes          string         `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewBookingResponse flattens nullable columns for the client
func NewBookingResponse(b *Booking) BookingResponse {
	resp := BookingResponse{
		ID:             b.ID,
		RequesterID:    b.RequesterID,
		ItemID:         b.ItemID,
		StartAt:        b.StartAt,
		EndAt:          b.EndAt,
		TotalPrice:     b.TotalPrice,
		Currency:       b.Currency,
		Status:         b.Status,
		PickupLocation: b.PickupLocation,
		ReturnLocation: b.ReturnLocation,
		Payment: BookingPayment{
			Method: b.PaymentMethod,
			Status: b.PaymentStatus,
		},
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if b.TransactionID != nil {
		resp.Payment.TransactionID = *b.TransactionID
	}
	if b.PaymentError != nil {
		resp.Payment.Error = *b.PaymentError
	}
	if b.Notes != nil {
		resp.Notes = *b.Notes
	}
	return resp
}

// ListBookingsResponse - GET /api/bookings?requester_id=
type ListBookingsResponse []BookingResponse

// ErrorResponse is the body of every non-2xx API answer
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
