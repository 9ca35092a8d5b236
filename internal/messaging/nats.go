package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
)

// StanBroker maps queues onto NATS Streaming subjects consumed through a durable
// queue group, so each message goes to one worker.
type StanBroker struct {
	cfg Config

	mu   sync.RWMutex
	conn stan.Conn
	lost chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func NewStanBroker(cfg Config) *StanBroker {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	return &StanBroker{
		cfg:    cfg,
		closed: make(chan struct{}),
	}
}

func (b *StanBroker) Connect(ctx context.Context) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	// client ids must be unique per connection in the cluster
	clientID := fmt.Sprintf("%s-%s", b.cfg.ClientID, uuid.New().String()[:8])
	lost := make(chan struct{})

	conn, err := stan.Connect(b.cfg.ClusterID, clientID,
		stan.NatsURL(b.cfg.URL),
		stan.SetConnectionLostHandler(func(_ stan.Conn, reason error) {
			b.onConnectionLost(lost, reason)
		}))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.lost = lost
	b.mu.Unlock()

	slog.Info("Connected to NATS Streaming", "url", b.cfg.URL, "cluster", b.cfg.ClusterID, "client", clientID)
	return nil
}

func (b *StanBroker) onConnectionLost(lost chan struct{}, reason error) {
	b.mu.Lock()
	b.conn = nil
	close(lost)
	b.mu.Unlock()

	slog.Error("NATS Streaming connection lost, reconnecting", "error", reason)
	go func() {
		for {
			select {
			case <-b.closed:
				return
			case <-time.After(b.cfg.ReconnectDelay):
			}
			if err := b.Connect(context.Background()); err != nil {
				slog.Warn("NATS Streaming reconnect failed", "error", err)
				continue
			}
			return
		}
	}()
}

func (b *StanBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.conn != nil {
			err = b.conn.Close()
			b.conn = nil
		}
	})
	return err
}

func (b *StanBroker) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

// Publish blocks until the streaming server has stored the message
func (b *StanBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Publish(queue, body); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", queue, err)
	}
	return nil
}

func (b *StanBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b.mu.RLock()
	conn := b.conn
	lost := b.lost
	b.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if prefetch <= 0 {
		prefetch = 8
	}

	out := make(chan Delivery)
	stop := make(chan struct{})
	var gate sync.RWMutex
	stopped := false

	handler := func(m *stan.Msg) {
		gate.RLock()
		defer gate.RUnlock()
		if stopped {
			return
		}
		select {
		case out <- &stanDelivery{m: m}:
		case <-stop:
			// not acked, redelivered after AckWait
		}
	}

	sub, err := conn.QueueSubscribe(queue, queue+"-workers", handler,
		stan.DurableName(queue+"-durable"),
		stan.SetManualAckMode(),
		stan.AckWait(b.cfg.AckWait),
		stan.MaxInflight(prefetch))
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to subject %s: %w", queue, err)
	}

	slog.Info("Subscribed to subject", "subject", queue, "max_inflight", prefetch)

	go func() {
		select {
		case <-ctx.Done():
		case <-lost:
		}

		close(stop)
		gate.Lock()
		stopped = true
		close(out)
		gate.Unlock()

		// Close keeps the durable queue group, Unsubscribe would remove it
		if err := sub.Close(); err != nil {
			slog.Debug("Failed to close subscription", "subject", queue, "error", err)
		}
	}()

	return out, nil
}

type stanDelivery struct {
	m *stan.Msg
}

func (s *stanDelivery) Body() []byte      { return s.m.Data }
func (s *stanDelivery) Redelivered() bool { return s.m.Redelivered }
func (s *stanDelivery) Ack() error        { return s.m.Ack() }

// Nack without requeue acks the message; with requeue it is left for AckWait redelivery.
func (s *stanDelivery) Nack(requeue bool) error {
	if requeue {
		return nil
	}
	return s.m.Ack()
}
