package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	KindRabbitMQ = "rabbitmq"
	KindNATS     = "nats"
	KindMemory   = "memory"
)

var ErrNotConnected = errors.New("broker is not connected")
var ErrClosed = errors.New("broker is closed")

type Config struct {
	Kind string `mapstructure:"kind"`
	URL  string `mapstructure:"url"`

	// NATS Streaming only
	ClusterID string        `mapstructure:"cluster_id"`
	ClientID  string        `mapstructure:"client_id"`
	AckWait   time.Duration `mapstructure:"ack_wait"`

	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// Delivery is one message handed to a consumer. It stays on the broker until
// Ack is called; Nack(true) returns it to the queue.
type Delivery interface {
	Body() []byte
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

// Broker is a durable point-to-point queue client with manual acknowledgment.
//
// Publish must only return nil once the broker has persisted the message.
// Consume returns a channel that is closed when ctx is cancelled or the connection
// is lost; callers re-subscribe after a loss and unacked deliveries are redelivered.
type Broker interface {
	Connect(ctx context.Context) error
	Close() error
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Healthy() bool
}

// NewBroker builds the broker client selected by cfg.Kind. It does not connect.
func NewBroker(cfg Config) (Broker, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}

	switch cfg.Kind {
	case KindRabbitMQ, "":
		return NewRabbitBroker(cfg), nil
	case KindNATS:
		return NewStanBroker(cfg), nil
	case KindMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// DeadLetterQueue names the queue that receives messages which exhausted their retries
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}
