package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Envelope wraps every payload put on a queue. Attempt counts deliveries that
// ended in a handler failure and is owned by the consumer runtime.
type Envelope struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Attempt     int               `json:"attempt"`
	Headers     map[string]string `json:"headers,omitempty"`
	Payload     json.RawMessage   `json:"payload"`
	PublishedAt time.Time         `json:"published_at"`
}

// NewEnvelope marshals payload and injects the trace context of ctx into the headers
func NewEnvelope(ctx context.Context, msgType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	return &Envelope{
		ID:          uuid.NewString(),
		Type:        msgType,
		Headers:     headers,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// DecodeEnvelope parses a delivery body
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope failed: %w", err)
	}
	if env.ID == "" || len(env.Payload) == 0 {
		return nil, fmt.Errorf("decode envelope failed: missing id or payload")
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into T
func DecodePayload[T any](env *Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}

// Next returns a copy for the following delivery attempt
func (e Envelope) Next() Envelope {
	next := e
	next.Attempt = e.Attempt + 1
	next.Headers = make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		next.Headers[k] = v
	}
	return next
}

// Context returns ctx carrying the trace context propagated in the headers
func (e *Envelope) Context(ctx context.Context) context.Context {
	if len(e.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(e.Headers))
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DeadLetter is what lands on <queue>.dlq
type DeadLetter struct {
	Queue    string    `json:"queue"`
	Reason   string    `json:"reason"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Raw      []byte    `json:"raw,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// Publisher puts typed messages on queues inside an envelope
type Publisher struct {
	broker Broker
}

func NewPublisher(broker Broker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) Publish(ctx context.Context, queue, msgType string, payload any) error {
	env, err := NewEnvelope(ctx, msgType, payload)
	if err != nil {
		return err
	}
	return p.PublishEnvelope(ctx, queue, env)
}

func (p *Publisher) PublishEnvelope(ctx context.Context, queue string, env *Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := p.broker.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queue, err)
	}
	return nil
}

// PublishDeadLetter sends dl to the dead-letter queue of dl.Queue
func (p *Publisher) PublishDeadLetter(ctx context.Context, dl *DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	dlq := DeadLetterQueue(dl.Queue)
	if err := p.broker.Publish(ctx, dlq, body); err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", dlq, err)
	}
	return nil
}
