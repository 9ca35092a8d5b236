// Package testutil holds in-memory stand-ins for the postgres repositories and
// the inventory, used by service, consumer and job tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/models"
)

// BookingStore mirrors the locking and overlap rules of repository.BookingRepository
type BookingStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	Now      func() time.Time
}

func NewBookingStore() *BookingStore {
	return &BookingStore{
		bookings: map[string]*models.Booking{},
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *BookingStore) CreateIfNoConflict(ctx context.Context, booking *models.Booking, pendingSince *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.overlapping(booking.ItemID, booking.StartAt, booking.EndAt, "", pendingSince)) > 0 {
		return apperrors.ErrScheduleConflict
	}
	now := s.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	cp := *booking
	s.bookings[booking.ID] = &cp
	return nil
}

// Put stores b as is, bypassing conflict checks
func (s *BookingStore) Put(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = &b
}

func (s *BookingStore) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *BookingStore) ListByRequester(ctx context.Context, requesterID string) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.RequesterID == requesterID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *BookingStore) ConfirmPending(ctx context.Context, id, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return false, apperrors.ErrBookingNotFound
	}
	if b.Status != models.BookingPending {
		return false, nil
	}

	txID := transactionID
	b.TransactionID = &txID
	b.PaymentStatus = models.PaymentCompleted
	b.UpdatedAt = s.Now()

	if len(s.overlapping(b.ItemID, b.StartAt, b.EndAt, b.ID, nil)) > 0 {
		reason := apperrors.ErrScheduleConflict.Error()
		b.Status = models.BookingCancelled
		b.PaymentError = &reason
		return false, apperrors.ErrScheduleConflict
	}
	b.Status = models.BookingConfirmed
	return true, nil
}

func (s *BookingStore) CancelPending(ctx context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != models.BookingPending {
		return false, nil
	}
	b.Status = models.BookingCancelled
	b.PaymentStatus = models.PaymentFailed
	b.PaymentError = &reason
	b.UpdatedAt = s.Now()
	return true, nil
}

func (s *BookingStore) GetStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.Status == models.BookingPending && b.CreatedAt.Before(olderThan) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BookingStore) MarkPaymentRequested(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok && b.Status == models.BookingPending {
		b.PaymentRequests++
		b.LastPaymentRequestAt = &at
	}
	return nil
}

// All returns every stored booking
func (s *BookingStore) All() []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, *b)
	}
	return out
}

func (s *BookingStore) overlapping(itemID string, start, end time.Time, excludeID string, pendingSince *time.Time) []models.Booking {
	var out []models.Booking
	for _, b := range s.bookings {
		if b.ItemID != itemID || b.ID == excludeID || !b.Overlaps(start, end) {
			continue
		}
		switch {
		case b.Status == models.BookingConfirmed, b.Status == models.BookingActive:
			out = append(out, *b)
		case b.Status == models.BookingPending && pendingSince != nil && b.CreatedAt.After(*pendingSince):
			out = append(out, *b)
		}
	}
	return out
}

// PaymentStore keeps payment attempts in insertion order
type PaymentStore struct {
	mu       sync.Mutex
	attempts []models.PaymentAttempt
	Err      error
}

func (s *PaymentStore) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	attempt.CreatedAt = time.Now().UTC()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *PaymentStore) ListByBooking(ctx context.Context, bookingID string) ([]models.PaymentAttempt, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.ForBooking(bookingID), nil
}

func (s *PaymentStore) ForBooking(bookingID string) []models.PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentAttempt
	for _, a := range s.attempts {
		if a.BookingID == bookingID {
			out = append(out, a)
		}
	}
	return out
}

// Inventory serves a fixed item set. Err, when set, is returned for every lookup.
type Inventory struct {
	Items map[string]models.InventoryItem
	Err   error
}

func (i *Inventory) GetItem(ctx context.Context, id string) (*models.InventoryItem, error) {
	if i.Err != nil {
		return nil, i.Err
	}
	item, ok := i.Items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrItemNotFound, id)
	}
	return &item, nil
}

// ProcessedMessages is a set of processed message ids
type ProcessedMessages struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (p *ProcessedMessages) IsProcessed(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids[id], nil
}

func (p *ProcessedMessages) MarkProcessed(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ids == nil {
		p.ids = map[string]bool{}
	}
	p.ids[id] = true
	return nil
}
