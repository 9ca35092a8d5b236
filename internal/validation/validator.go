package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"rentsaga/internal/models"
)

const (
	defaultBaseURL = "http://localhost:8081"
	defaultItemID  = "car-001"
)

// SpecValidator прогоняет сагу бронирования против живого API
type SpecValidator struct {
	baseURL      string
	itemID       string
	client       *http.Client
	pollInterval time.Duration
	settleWithin time.Duration
}

// NewSpecValidator создает новый валидатор
func NewSpecValidator(baseURL, itemID string) *SpecValidator {
	return &SpecValidator{
		baseURL:      baseURL,
		itemID:       itemID,
		client:       &http.Client{Timeout: 10 * time.Second},
		pollInterval: 500 * time.Millisecond,
		settleWithin: 30 * time.Second,
	}
}

// BaseURLFromEnv returns VALIDATE_URL or the local API address
func BaseURLFromEnv() string {
	if u := os.Getenv("VALIDATE_URL"); u != "" {
		return u
	}
	return defaultBaseURL
}

// RunValidation validates the API at baseURL using the seeded demo item
func RunValidation(ctx context.Context, baseURL string) error {
	itemID := os.Getenv("VALIDATE_ITEM_ID")
	if itemID == "" {
		itemID = defaultItemID
	}
	return NewSpecValidator(baseURL, itemID).ValidateAll(ctx)
}

// ValidateAll создает бронирование, ждет результата оплаты и проверяет
// ошибки валидации и конфликт расписания.
func (v *SpecValidator) ValidateAll(ctx context.Context) error {
	slog.Info("Starting booking saga validation", "url", v.baseURL, "item_id", v.itemID)

	if err := v.validateRejectsInvalid(ctx); err != nil {
		return fmt.Errorf("validation checks failed: %w", err)
	}

	// случайное окно в будущем, чтобы повторные прогоны не конфликтовали
	start := time.Now().UTC().Truncate(time.Hour).Add(time.Duration(30+rand.Intn(300)) * 24 * time.Hour)
	end := start.Add(2 * 24 * time.Hour)

	booking, err := v.create(ctx, start, end)
	if err != nil {
		return err
	}
	slog.Info("Booking accepted", "booking_id", booking.ID, "total_price", booking.TotalPrice)

	settled, err := v.waitForTerminal(ctx, booking.ID)
	if err != nil {
		return err
	}
	slog.Info("Booking settled", "booking_id", settled.ID, "status", settled.Status, "payment_status", settled.Payment.Status)

	if settled.Status == models.BookingConfirmed {
		if err := v.validateConflict(ctx, start.Add(24*time.Hour), end.Add(24*time.Hour)); err != nil {
			return err
		}
	}

	if err := v.validateList(ctx, booking); err != nil {
		return err
	}

	slog.Info("Validation passed")
	return nil
}

func (v *SpecValidator) request(start, end time.Time) models.CreateBookingRequest {
	return models.CreateBookingRequest{
		RequesterID:    "validator",
		ItemID:         v.itemID,
		StartAt:        start,
		EndAt:          end,
		PickupLocation: "Validator HQ",
		ReturnLocation: "Validator HQ",
		PaymentMethod:  "card",
	}
}

func (v *SpecValidator) create(ctx context.Context, start, end time.Time) (*models.BookingResponse, error) {
	var booking models.BookingResponse
	status, err := v.do(ctx, http.MethodPost, "/api/bookings", v.request(start, end), &booking)
	if err != nil {
		return nil, err
	}
	if status != http.StatusAccepted {
		return nil, fmt.Errorf("POST /api/bookings: expected 202, got %d", status)
	}
	if booking.ID == "" || booking.Status != models.BookingPending {
		return nil, fmt.Errorf("POST /api/bookings: expected pending booking with id, got %q/%s", booking.ID, booking.Status)
	}
	return &booking, nil
}

func (v *SpecValidator) waitForTerminal(ctx context.Context, id string) (*models.BookingResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, v.settleWithin)
	defer cancel()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		var booking models.BookingResponse
		status, err := v.do(ctx, http.MethodGet, "/api/bookings/"+id, nil, &booking)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("GET /api/bookings/%s: expected 200, got %d", id, status)
		}
		if booking.Status != models.BookingPending {
			return &booking, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("booking %s still pending after %s", id, v.settleWithin)
		case <-ticker.C:
		}
	}
}

func (v *SpecValidator) validateRejectsInvalid(ctx context.Context) error {
	start := time.Now().UTC().Add(48 * time.Hour)
	var resp models.ErrorResponse
	status, err := v.do(ctx, http.MethodPost, "/api/bookings", v.request(start, start.Add(-time.Hour)), &resp)
	if err != nil {
		return err
	}
	if status != http.StatusBadRequest || resp.Field != "end_at" {
		return fmt.Errorf("POST /api/bookings with end before start: expected 400 on end_at, got %d on %q", status, resp.Field)
	}
	return nil
}

func (v *SpecValidator) validateConflict(ctx context.Context, start, end time.Time) error {
	status, err := v.do(ctx, http.MethodPost, "/api/bookings", v.request(start, end), nil)
	if err != nil {
		return err
	}
	if status != http.StatusConflict {
		return fmt.Errorf("POST /api/bookings overlapping a confirmed booking: expected 409, got %d", status)
	}
	return nil
}

func (v *SpecValidator) validateList(ctx context.Context, booking *models.BookingResponse) error {
	var list models.ListBookingsResponse
	status, err := v.do(ctx, http.MethodGet, "/api/bookings?requester_id=validator", nil, &list)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET /api/bookings: expected 200, got %d", status)
	}
	for _, b := range list {
		if b.ID == booking.ID {
			return nil
		}
	}
	return fmt.Errorf("GET /api/bookings: booking %s missing from requester list", booking.ID)
}

// do выполняет запрос и декодирует тело в out (если out не nil)
func (v *SpecValidator) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
