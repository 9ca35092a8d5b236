package repository

import (
	"rentsaga/internal/database"
)

type Repositories struct {
	Bookings *BookingRepository
	Payments *PaymentRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Bookings: NewBookingRepository(db),
		Payments: NewPaymentRepository(db),
	}
}
