package models

import (
	"time"
)

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
)

// IsTerminal reports whether a payment result may no longer change the booking.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingConfirmed, BookingCancelled, BookingActive, BookingCompleted:
		return true
	}
	return false
}

// PaymentStatus is shared by the booking payment sub-record and payment attempts
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// ItemStatusAvailable is the only inventory status that accepts bookings
const ItemStatusAvailable = "available"

// Booking represents a reservation of one inventory item for [StartAt, EndAt)
type Booking struct {
	ID                   string        `json:"id" db:"id"`
	RequesterID          string        `json:"requester_id" db:"requester_id"`
	ItemID               string        `json:"item_id" db:"item_id"`
	StartAt              time.Time     `json:"start_at" db:"start_at"`
	EndAt                time.Time     `json:"end_at" db:"end_at"`
	TotalPrice           int64         `json:"total_price" db:"total_price"`
	Currency             string        `json:"currency" db:"currency"`
	Status               BookingStatus `json:"status" db:"status"`
	PickupLocation       string        `json:"pickup_location" db:"pickup_location"`
	ReturnLocation       string        `json:"return_location" db:"return_location"`
	PaymentMethod        string        `json:"payment_method" db:"payment_method"`
	PaymentStatus        PaymentStatus `json:"payment_status" db:"payment_status"`
	TransactionID        *string       `json:"transaction_id,omitempty" db:"transaction_id"`
	PaymentError         *string       `json:"payment_error,omitempty" db:"payment_error"`
	Notes                *string       `json:"notes,omitempty" db:"notes"`
	PaymentRequests      int           `json:"-" db:"payment_requests"`
	// LastPaymentRequestAt is nil until the sweep re-publishes the first time
	LastPaymentRequestAt *time.Time    `json:"-" db:"last_payment_request_at"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// Overlaps uses the half-open interval test.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartAt.Before(end) && b.EndAt.After(start)
}

// PaymentAttempt is one immutable charge attempt for a booking
type PaymentAttempt struct {
	ID            string        `json:"id" db:"id"`
	BookingID     string        `json:"booking_id" db:"booking_id"`
	RequesterID   string        `json:"requester_id" db:"requester_id"`
	Amount        int64         `json:"amount" db:"amount"`
	Currency      string        `json:"currency" db:"currency"`
	Status        PaymentStatus `json:"status" db:"status"`
	TransactionID *string       `json:"transaction_id,omitempty" db:"transaction_id"`
	ErrorMessage  *string       `json:"error_message,omitempty" db:"error_message"`
	MessageID     string        `json:"message_id" db:"message_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// InventoryItem is what the inventory collaborator knows about a rentable item
type InventoryItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	PricePerDay int64     `json:"price_per_day"`
	Currency    string    `json:"currency"`
	Location    string    `json:"location,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
