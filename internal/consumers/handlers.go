package consumers

import (
	"context"
	"fmt"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/messaging"
	"rentsaga/internal/models"
	"rentsaga/internal/service"
)

// Handlers decode queue messages and hand them to the saga services
type Handlers struct {
	payments   *service.PaymentWorker
	reconciler *service.Reconciler
	notifier   service.Notifier
}

func NewHandlers(payments *service.PaymentWorker, reconciler *service.Reconciler, notifier service.Notifier) *Handlers {
	if notifier == nil {
		notifier = service.LogNotifier{}
	}
	return &Handlers{
		payments:   payments,
		reconciler: reconciler,
		notifier:   notifier,
	}
}

func (h *Handlers) HandlePaymentRequested(ctx context.Context, env *messaging.Envelope) error {
	req, err := decode[models.PaymentRequested](env, models.MessagePaymentRequested)
	if err != nil {
		return err
	}
	if req.BookingID == "" || req.Amount < 0 {
		return apperrors.Permanent(fmt.Errorf("invalid payment request for booking %q", req.BookingID))
	}
	return h.payments.Process(ctx, env.ID, req)
}

func (h *Handlers) HandlePaymentResult(ctx context.Context, env *messaging.Envelope) error {
	res, err := decode[models.PaymentResult](env, models.MessagePaymentResult)
	if err != nil {
		return err
	}
	if res.BookingID == "" {
		return apperrors.Permanent(fmt.Errorf("payment result without booking id"))
	}
	return h.reconciler.Apply(ctx, res)
}

func (h *Handlers) HandleBookingCreated(ctx context.Context, env *messaging.Envelope) error {
	msg, err := decode[models.BookingCreated](env, models.MessageBookingCreated)
	if err != nil {
		return err
	}
	return h.notifier.Notify(ctx, msg)
}

// decode rejects messages of the wrong type or shape; retrying them cannot help
func decode[T any](env *messaging.Envelope, msgType string) (T, error) {
	var zero T
	if env.Type != msgType {
		return zero, apperrors.Permanent(fmt.Errorf("unexpected message type %q, want %q", env.Type, msgType))
	}
	payload, err := messaging.DecodePayload[T](env)
	if err != nil {
		return zero, apperrors.Permanent(err)
	}
	return payload, nil
}
