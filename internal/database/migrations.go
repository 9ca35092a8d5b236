package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createBookingsTable,
		createBookingsItemIndex,
		createBookingsPendingIndex,
		createPaymentAttemptsTable,
		createPaymentAttemptsBookingIndex,
		addBookingsLastPaymentRequestAt,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id UUID PRIMARY KEY,
    requester_id VARCHAR(255) NOT NULL,
    item_id VARCHAR(255) NOT NULL,
    start_at TIMESTAMPTZ NOT NULL,
    end_at TIMESTAMPTZ NOT NULL,
    total_price BIGINT NOT NULL,
    currency VARCHAR(3) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    pickup_location TEXT NOT NULL,
    return_location TEXT NOT NULL,
    payment_method VARCHAR(50) NOT NULL,
    payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
    transaction_id VARCHAR(255),
    payment_error TEXT,
    notes TEXT,
    payment_requests INTEGER NOT NULL DEFAULT 0,
    last_payment_request_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (start_at < end_at),
    CHECK (status IN ('pending', 'confirmed', 'cancelled', 'active', 'completed')),
    CHECK (payment_status IN ('pending', 'completed', 'failed'))
);`

const createBookingsItemIndex = `
CREATE INDEX IF NOT EXISTS bookings_item_interval_idx
ON bookings (item_id, start_at, end_at) WHERE status IN ('pending', 'confirmed', 'active');`

const createBookingsPendingIndex = `
CREATE INDEX IF NOT EXISTS bookings_pending_created_idx
ON bookings (created_at) WHERE status = 'pending';`

const createPaymentAttemptsTable = `
CREATE TABLE IF NOT EXISTS payment_attempts (
    id UUID PRIMARY KEY,
    booking_id UUID NOT NULL REFERENCES bookings(id),
    requester_id VARCHAR(255) NOT NULL,
    amount BIGINT NOT NULL,
    currency VARCHAR(3) NOT NULL,
    status VARCHAR(20) NOT NULL,
    transaction_id VARCHAR(255),
    error_message TEXT,
    message_id VARCHAR(64) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('pending', 'completed', 'failed'))
);`

const createPaymentAttemptsBookingIndex = `
CREATE INDEX IF NOT EXISTS payment_attempts_booking_idx
ON payment_attempts (booking_id, created_at);`


const addBookingsLastPaymentRequestAt = `
ALTER TABLE bookings ADD COLUMN IF NOT EXISTS last_payment_request_at TIMESTAMPTZ;`
