package models

import "time"

// Queue names
const (
	QueuePaymentRequests      = "payment.requests"
	QueuePaymentResults       = "payment.results"
	QueueBookingNotifications = "booking.notifications"
)

// Message types carried in the envelope
const (
	MessageBookingCreated   = "booking.created"
	MessagePaymentRequested = "payment.requested"
	MessagePaymentResult    = "payment.result"
)

// Payment result statuses on the wire
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// BookingCreated is informational, consumed by the notification sender
type BookingCreated struct {
	BookingID        string    `json:"booking_id"`
	RequesterContact string    `json:"requester_contact,omitempty"`
	ItemSummary      string    `json:"item_summary"`
	StartAt          time.Time `json:"start_at"`
	EndAt            time.Time `json:"end_at"`
}

// PaymentRequested asks the payment worker to charge for a booking
type PaymentRequested struct {
	BookingID   string `json:"booking_id"`
	RequesterID string `json:"requester_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// PaymentResult reports the outcome of one payment attempt
type PaymentResult struct {
	BookingID     string `json:"booking_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (r PaymentResult) Succeeded() bool {
	return r.Status == ResultSuccess
}
