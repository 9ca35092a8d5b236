package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentsaga/internal/database"
	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/external"
	"rentsaga/internal/messaging"
	"rentsaga/internal/models"
	"rentsaga/internal/repository"
	"rentsaga/internal/testutil"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type bookingFixture struct {
	svc       *BookingService
	store     *testutil.BookingStore
	inventory *testutil.Inventory
	broker    *messaging.MemoryBroker
}

func newBookingFixture(t *testing.T, policy BookingPolicy) *bookingFixture {
	t.Helper()
	broker := messaging.NewMemoryBroker()
	require.NoError(t, broker.Connect(context.Background()))

	store := testutil.NewBookingStore()
	store.Now = func() time.Time { return testNow }

	inventory := &testutil.Inventory{Items: map[string]models.InventoryItem{
		"car-1": {ID: "car-1", Name: "Compact hatchback", Status: models.ItemStatusAvailable, PricePerDay: 4500, Currency: "USD"},
		"car-2": {ID: "car-2", Name: "Van", Status: "maintenance", PricePerDay: 9000, Currency: "USD"},
	}}

	svc := NewBookingService(store, inventory, messaging.NewPublisher(broker), policy)
	svc.now = func() time.Time { return testNow }

	return &bookingFixture{svc: svc, store: store, inventory: inventory, broker: broker}
}

func validRequest() *models.CreateBookingRequest {
	return &models.CreateBookingRequest{
		RequesterID:      "user-1",
		RequesterContact: "user-1@example.com",
		ItemID:           "car-1",
		StartAt:          testNow.Add(24 * time.Hour),
		EndAt:            testNow.Add(72 * time.Hour),
		PickupLocation:   "Airport",
		ReturnLocation:   "Downtown",
		PaymentMethod:    "card",
	}
}

func decodeQueue[T any](t *testing.T, broker *messaging.MemoryBroker, queue string) []T {
	t.Helper()
	var out []T
	for _, body := range broker.Pending(queue) {
		env, err := messaging.DecodeEnvelope(body)
		require.NoError(t, err)
		payload, err := messaging.DecodePayload[T](env)
		require.NoError(t, err)
		out = append(out, payload)
	}
	return out
}

func TestCalculatePrice(t *testing.T) {
	start := testNow
	tests := []struct {
		name string
		end  time.Time
		want int64
	}{
		{name: "exactly one day", end: start.Add(24 * time.Hour), want: 4500},
		{name: "one hour", end: start.Add(time.Hour), want: 4500},
		{name: "one day and a minute", end: start.Add(24*time.Hour + time.Minute), want: 9000},
		{name: "three days", end: start.Add(72 * time.Hour), want: 13500},
		{name: "empty interval", end: start, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculatePrice(start, tt.end, 4500))
		})
	}
}

func TestBookingService_Create(t *testing.T) {
	f := newBookingFixture(t, BookingPolicy{HoldTTL: 15 * time.Minute})

	booking, err := f.svc.Create(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.Equal(t, models.PaymentPending, booking.PaymentStatus)
	assert.Equal(t, int64(9000), booking.TotalPrice)
	assert.Equal(t, "USD", booking.Currency)

	stored, err := f.store.GetByID(context.Background(), booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.BookingPending, stored.Status)

	requests := decodeQueue[models.PaymentRequested](t, f.broker, models.QueuePaymentRequests)
	require.Len(t, requests, 1)
	assert.Equal(t, models.PaymentRequested{BookingID: booking.ID, RequesterID: "user-1", Amount: 9000, Currency: "USD"}, requests[0])

	created := decodeQueue[models.BookingCreated](t, f.broker, models.QueueBookingNotifications)
	require.Len(t, created, 1)
	assert.Equal(t, booking.ID, created[0].BookingID)
	assert.Equal(t, "Compact hatchback", created[0].ItemSummary)
	assert.Equal(t, "user-1@example.com", created[0].RequesterContact)
}

func TestBookingService_Create_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingRequest)
		field  string
	}{
		{name: "missing requester", mutate: func(r *models.CreateBookingRequest) { r.RequesterID = "" }, field: "requester_id"},
		{name: "missing item", mutate: func(r *models.CreateBookingRequest) { r.ItemID = " " }, field: "item_id"},
		{name: "missing start", mutate: func(r *models.CreateBookingRequest) { r.StartAt = time.Time{} }, field: "start_at"},
		{name: "end before start", mutate: func(r *models.CreateBookingRequest) { r.EndAt = r.StartAt.Add(-time.Hour) }, field: "end_at"},
		{name: "end equals start", mutate: func(r *models.CreateBookingRequest) { r.EndAt = r.StartAt }, field: "end_at"},
		{name: "start in the past", mutate: func(r *models.CreateBookingRequest) { r.StartAt = testNow.Add(-time.Hour) }, field: "start_at"},
		{name: "missing pickup", mutate: func(r *models.CreateBookingRequest) { r.PickupLocation = "" }, field: "pickup_location"},
		{name: "missing return", mutate: func(r *models.CreateBookingRequest) { r.ReturnLocation = "" }, field: "return_location"},
		{name: "missing payment method", mutate: func(r *models.CreateBookingRequest) { r.PaymentMethod = "" }, field: "payment_method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t, BookingPolicy{})
			req := validRequest()
			tt.mutate(req)

			_, err := f.svc.Create(context.Background(), req)
			var ve *apperrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, f.store.All())
			assert.Empty(t, f.broker.Pending(models.QueuePaymentRequests))
		})
	}
}

func TestBookingService_Create_InventoryFailures(t *testing.T) {
	t.Run("item not found", func(t *testing.T) {
		f := newBookingFixture(t, BookingPolicy{})
		req := validRequest()
		req.ItemID = "car-404"

		_, err := f.svc.Create(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrItemNotFound)
		assert.Empty(t, f.store.All())
	})

	t.Run("item not available", func(t *testing.T) {
		f := newBookingFixture(t, BookingPolicy{})
		req := validRequest()
		req.ItemID = "car-2"

		_, err := f.svc.Create(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrItemUnavailable)
		assert.Empty(t, f.store.All())
	})

	t.Run("inventory unreachable", func(t *testing.T) {
		f := newBookingFixture(t, BookingPolicy{})
		f.inventory.Err = errors.New("dial tcp: connection refused")

		_, err := f.svc.Create(context.Background(), validRequest())
		assert.ErrorIs(t, err, apperrors.ErrInventoryUnavailable)
		assert.Empty(t, f.store.All())
		assert.Empty(t, f.broker.Pending(models.QueuePaymentRequests))
	})
}

func TestBookingService_Create_Conflicts(t *testing.T) {
	start := testNow.Add(24 * time.Hour)
	end := testNow.Add(72 * time.Hour)

	existing := func(status models.BookingStatus, createdAt time.Time, s, e time.Time) models.Booking {
		return models.Booking{
			ID: "existing", RequesterID: "user-9", ItemID: "car-1",
			StartAt: s, EndAt: e, Status: status, CreatedAt: createdAt,
		}
	}

	tests := []struct {
		name     string
		policy   BookingPolicy
		existing models.Booking
		conflict bool
	}{
		{name: "confirmed overlap", existing: existing(models.BookingConfirmed, testNow.Add(-time.Hour), start.Add(time.Hour), end.Add(time.Hour)), conflict: true},
		{name: "active overlap", existing: existing(models.BookingActive, testNow.Add(-time.Hour), start.Add(-time.Hour), start.Add(time.Hour)), conflict: true},
		{name: "adjacent confirmed", existing: existing(models.BookingConfirmed, testNow.Add(-time.Hour), end, end.Add(24*time.Hour)), conflict: false},
		{name: "cancelled overlap", existing: existing(models.BookingCancelled, testNow.Add(-time.Hour), start, end), conflict: false},
		{name: "completed overlap", existing: existing(models.BookingCompleted, testNow.Add(-time.Hour), start, end), conflict: false},
		{name: "fresh pending within hold", policy: BookingPolicy{HoldTTL: 15 * time.Minute}, existing: existing(models.BookingPending, testNow.Add(-time.Minute), start, end), conflict: true},
		{name: "pending past hold", policy: BookingPolicy{HoldTTL: 15 * time.Minute}, existing: existing(models.BookingPending, testNow.Add(-time.Hour), start, end), conflict: false},
		{name: "pending without hold", existing: existing(models.BookingPending, testNow.Add(-time.Minute), start, end), conflict: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t, tt.policy)
			f.store.Put(tt.existing)

			booking, err := f.svc.Create(context.Background(), validRequest())
			if tt.conflict {
				assert.ErrorIs(t, err, apperrors.ErrScheduleConflict)
				assert.Len(t, f.store.All(), 1)
				assert.Empty(t, f.broker.Pending(models.QueuePaymentRequests))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.BookingPending, booking.Status)
		})
	}
}

func TestBookingService_Create_PublishFailureKeepsBooking(t *testing.T) {
	f := newBookingFixture(t, BookingPolicy{})
	f.broker.FailPublish(models.QueuePaymentRequests, errors.New("broker down"))
	f.broker.FailPublish(models.QueueBookingNotifications, errors.New("broker down"))

	booking, err := f.svc.Create(context.Background(), validRequest())
	require.NoError(t, err)

	stored, err := f.store.GetByID(context.Background(), booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.BookingPending, stored.Status)
}

func TestBookingService_GetAndList(t *testing.T) {
	f := newBookingFixture(t, BookingPolicy{})
	booking, err := f.svc.Create(context.Background(), validRequest())
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, got.ID)

	_, err = f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrBookingNotFound)

	list, err := f.svc.ListByRequester(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListByRequester(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestBookingService_PaymentAttempts(t *testing.T) {
	f := newBookingFixture(t, BookingPolicy{})
	booking, err := f.svc.Create(context.Background(), validRequest())
	require.NoError(t, err)

	attempts, err := f.svc.PaymentAttempts(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.NotNil(t, attempts)
	assert.Empty(t, attempts)

	payments := &testutil.PaymentStore{}
	f.svc.WithPaymentHistory(payments)
	require.NoError(t, payments.Create(context.Background(), &models.PaymentAttempt{
		ID: "a-1", BookingID: booking.ID, Amount: booking.TotalPrice, Currency: booking.Currency, Status: models.PaymentFailed,
	}))
	require.NoError(t, payments.Create(context.Background(), &models.PaymentAttempt{
		ID: "a-other", BookingID: "another", Status: models.PaymentCompleted,
	}))

	attempts, err = f.svc.PaymentAttempts(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "a-1", attempts[0].ID)

	_, err = f.svc.PaymentAttempts(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrBookingNotFound)

	payments.Err = errors.New("db down")
	_, err = f.svc.PaymentAttempts(context.Background(), booking.ID)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrBookingNotFound)
}

type stubGateway struct {
	result *external.ChargeResult
	err    error
	calls  int
}

func (g *stubGateway) Charge(ctx context.Context, req external.ChargeRequest) (*external.ChargeResult, error) {
	g.calls++
	return g.result, g.err
}

func paymentRequest() models.PaymentRequested {
	return models.PaymentRequested{BookingID: "b-1", RequesterID: "user-1", Amount: 9000, Currency: "USD"}
}

func TestPaymentWorker_Process(t *testing.T) {
	tests := []struct {
		name       string
		gateway    *stubGateway
		wantStatus models.PaymentStatus
		wantResult models.PaymentResult
	}{
		{
			name:       "approved",
			gateway:    &stubGateway{result: &external.ChargeResult{Approved: true, TransactionID: "txn-1"}},
			wantStatus: models.PaymentCompleted,
			wantResult: models.PaymentResult{BookingID: "b-1", Status: models.ResultSuccess, TransactionID: "txn-1"},
		},
		{
			name:       "declined",
			gateway:    &stubGateway{result: &external.ChargeResult{DeclineReason: "insufficient funds"}},
			wantStatus: models.PaymentFailed,
			wantResult: models.PaymentResult{BookingID: "b-1", Status: models.ResultFailed, ErrorMessage: "insufficient funds"},
		},
		{
			name:       "gateway error",
			gateway:    &stubGateway{err: errors.New("timeout")},
			wantStatus: models.PaymentFailed,
			wantResult: models.PaymentResult{BookingID: "b-1", Status: models.ResultFailed, ErrorMessage: "payment gateway error: timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := messaging.NewMemoryBroker()
			require.NoError(t, broker.Connect(context.Background()))
			payments := &testutil.PaymentStore{}
			w := NewPaymentWorker(payments, tt.gateway, messaging.NewPublisher(broker), &testutil.ProcessedMessages{})

			require.NoError(t, w.Process(context.Background(), "msg-1", paymentRequest()))

			attempts := payments.ForBooking("b-1")
			require.Len(t, attempts, 1)
			assert.Equal(t, tt.wantStatus, attempts[0].Status)
			assert.Equal(t, "msg-1", attempts[0].MessageID)
			assert.Equal(t, int64(9000), attempts[0].Amount)

			results := decodeQueue[models.PaymentResult](t, broker, models.QueuePaymentResults)
			require.Len(t, results, 1)
			assert.Equal(t, tt.wantResult, results[0])
		})
	}
}

func TestPaymentWorker_RedeliveryIsSkipped(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	require.NoError(t, broker.Connect(context.Background()))
	payments := &testutil.PaymentStore{}
	gateway := &stubGateway{result: &external.ChargeResult{Approved: true, TransactionID: "txn-1"}}
	w := NewPaymentWorker(payments, gateway, messaging.NewPublisher(broker), &testutil.ProcessedMessages{})

	require.NoError(t, w.Process(context.Background(), "msg-1", paymentRequest()))
	require.NoError(t, w.Process(context.Background(), "msg-1", paymentRequest()))

	assert.Equal(t, 1, gateway.calls)
	assert.Len(t, payments.ForBooking("b-1"), 1)
	assert.Len(t, broker.Pending(models.QueuePaymentResults), 1)
}

func TestPaymentWorker_PublishFailure(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	require.NoError(t, broker.Connect(context.Background()))
	broker.FailPublish(models.QueuePaymentResults, errors.New("broker down"))
	payments := &testutil.PaymentStore{}
	processed := &testutil.ProcessedMessages{}
	gateway := &stubGateway{result: &external.ChargeResult{Approved: true, TransactionID: "txn-1"}}
	w := NewPaymentWorker(payments, gateway, messaging.NewPublisher(broker), processed)

	err := w.Process(context.Background(), "msg-1", paymentRequest())
	require.Error(t, err)
	assert.Len(t, payments.ForBooking("b-1"), 1)

	done, _ := processed.IsProcessed(context.Background(), "msg-1")
	assert.False(t, done)

	// the redelivery charges once more and publishes
	broker.FailPublish(models.QueuePaymentResults, nil)
	require.NoError(t, w.Process(context.Background(), "msg-1", paymentRequest()))
	assert.Len(t, payments.ForBooking("b-1"), 2)
	assert.Len(t, broker.Pending(models.QueuePaymentResults), 1)
}

func TestPaymentWorker_PersistFailureStillPublishes(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	require.NoError(t, broker.Connect(context.Background()))
	payments := &testutil.PaymentStore{Err: errors.New("db down")}
	gateway := &stubGateway{result: &external.ChargeResult{DeclineReason: "card expired"}}
	w := NewPaymentWorker(payments, gateway, messaging.NewPublisher(broker), nil)

	require.NoError(t, w.Process(context.Background(), "msg-1", paymentRequest()))
	assert.Len(t, broker.Pending(models.QueuePaymentResults), 1)
}

func pendingBooking(id string) models.Booking {
	return models.Booking{
		ID: id, RequesterID: "user-1", ItemID: "car-1",
		StartAt: testNow.Add(24 * time.Hour), EndAt: testNow.Add(48 * time.Hour),
		TotalPrice: 4500, Currency: "USD",
		Status: models.BookingPending, PaymentStatus: models.PaymentPending,
		CreatedAt: testNow,
	}
}

func TestReconciler_Apply(t *testing.T) {
	success := models.PaymentResult{BookingID: "b-1", Status: models.ResultSuccess, TransactionID: "txn-1"}
	failed := models.PaymentResult{BookingID: "b-1", Status: models.ResultFailed, ErrorMessage: "insufficient funds"}

	tests := []struct {
		name          string
		results       []models.PaymentResult
		wantStatus    models.BookingStatus
		wantPayment   models.PaymentStatus
		wantTxID      string
		wantPaymentEr string
	}{
		{name: "success confirms", results: []models.PaymentResult{success}, wantStatus: models.BookingConfirmed, wantPayment: models.PaymentCompleted, wantTxID: "txn-1"},
		{name: "failure cancels", results: []models.PaymentResult{failed}, wantStatus: models.BookingCancelled, wantPayment: models.PaymentFailed, wantPaymentEr: "insufficient funds"},
		{name: "duplicate success", results: []models.PaymentResult{success, success}, wantStatus: models.BookingConfirmed, wantPayment: models.PaymentCompleted, wantTxID: "txn-1"},
		{name: "late failure after success", results: []models.PaymentResult{success, failed}, wantStatus: models.BookingConfirmed, wantPayment: models.PaymentCompleted, wantTxID: "txn-1"},
		{name: "late success after failure", results: []models.PaymentResult{failed, success}, wantStatus: models.BookingCancelled, wantPayment: models.PaymentFailed, wantPaymentEr: "insufficient funds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewBookingStore()
			store.Put(pendingBooking("b-1"))
			r := NewReconciler(store)

			for _, res := range tt.results {
				require.NoError(t, r.Apply(context.Background(), res))
			}

			b, err := store.GetByID(context.Background(), "b-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, b.Status)
			assert.Equal(t, tt.wantPayment, b.PaymentStatus)
			if tt.wantTxID != "" {
				require.NotNil(t, b.TransactionID)
				assert.Equal(t, tt.wantTxID, *b.TransactionID)
			}
			if tt.wantPaymentEr != "" {
				require.NotNil(t, b.PaymentError)
				assert.Equal(t, tt.wantPaymentEr, *b.PaymentError)
			}
		})
	}
}

func TestReconciler_TerminalStatesAreNeverRegressed(t *testing.T) {
	for _, status := range []models.BookingStatus{models.BookingConfirmed, models.BookingCancelled, models.BookingActive, models.BookingCompleted} {
		t.Run(string(status), func(t *testing.T) {
			store := testutil.NewBookingStore()
			b := pendingBooking("b-1")
			b.Status = status
			store.Put(b)
			r := NewReconciler(store)

			require.NoError(t, r.Apply(context.Background(), models.PaymentResult{BookingID: "b-1", Status: models.ResultSuccess, TransactionID: "txn-9"}))
			require.NoError(t, r.Apply(context.Background(), models.PaymentResult{BookingID: "b-1", Status: models.ResultFailed, ErrorMessage: "late"}))

			got, _ := store.GetByID(context.Background(), "b-1")
			assert.Equal(t, status, got.Status)
			assert.Nil(t, got.TransactionID)
		})
	}
}

func TestReconciler_UnknownBookingIsDropped(t *testing.T) {
	r := NewReconciler(testutil.NewBookingStore())
	err := r.Apply(context.Background(), models.PaymentResult{BookingID: "ghost", Status: models.ResultSuccess, TransactionID: "txn-1"})
	assert.NoError(t, err)
}

func TestReconciler_NonUUIDBookingIsDroppedWithoutQuery(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	r := NewReconciler(repository.NewBookingRepository(database.New(sqlx.NewDb(mockDB, "postgres"))))

	for _, res := range []models.PaymentResult{
		{BookingID: "abc", Status: models.ResultSuccess, TransactionID: "txn-1"},
		{BookingID: "abc", Status: models.ResultFailed, ErrorMessage: "declined"},
		{BookingID: "", Status: models.ResultSuccess, TransactionID: "txn-2"},
	} {
		assert.NoError(t, r.Apply(context.Background(), res), res.BookingID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciler_ConfirmationLosesSlot(t *testing.T) {
	store := testutil.NewBookingStore()
	store.Put(pendingBooking("b-1"))
	winner := pendingBooking("b-0")
	winner.Status = models.BookingConfirmed
	store.Put(winner)
	r := NewReconciler(store)

	require.NoError(t, r.Apply(context.Background(), models.PaymentResult{BookingID: "b-1", Status: models.ResultSuccess, TransactionID: "txn-1"}))

	got, _ := store.GetByID(context.Background(), "b-1")
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, models.PaymentCompleted, got.PaymentStatus)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "txn-1", *got.TransactionID)
}

func TestReconciler_MalformedResults(t *testing.T) {
	store := testutil.NewBookingStore()
	store.Put(pendingBooking("b-1"))
	r := NewReconciler(store)

	err := r.Apply(context.Background(), models.PaymentResult{BookingID: "b-1", Status: "refunded"})
	assert.ErrorIs(t, err, apperrors.ErrPermanent)

	err = r.Apply(context.Background(), models.PaymentResult{BookingID: "b-1", Status: models.ResultSuccess})
	assert.ErrorIs(t, err, apperrors.ErrPermanent)

	got, _ := store.GetByID(context.Background(), "b-1")
	assert.Equal(t, models.BookingPending, got.Status)
}
