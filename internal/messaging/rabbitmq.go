package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBroker publishes to the default exchange with the queue name as routing
// key, so every queue is a plain durable point-to-point queue.
type RabbitBroker struct {
	cfg Config

	mu       sync.RWMutex
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	declared map[string]bool
	lost     chan struct{}

	pubMu     sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func NewRabbitBroker(cfg Config) *RabbitBroker {
	return &RabbitBroker{
		cfg:    cfg,
		closed: make(chan struct{}),
	}
}

func (b *RabbitBroker) Connect(ctx context.Context) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	lost := make(chan struct{})
	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.declared = map[string]bool{}
	b.lost = lost
	b.mu.Unlock()

	go b.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), lost)

	slog.Info("Connected to RabbitMQ")
	return nil
}

// watch reconnects after the server or network closes the connection
func (b *RabbitBroker) watch(notify <-chan *amqp.Error, lost chan struct{}) {
	amqpErr, ok := <-notify

	b.mu.Lock()
	b.conn = nil
	b.pubCh = nil
	close(lost)
	b.mu.Unlock()

	select {
	case <-b.closed:
		return
	default:
	}
	if !ok || amqpErr == nil {
		return
	}

	slog.Error("RabbitMQ connection lost, reconnecting", "error", amqpErr)
	for {
		select {
		case <-b.closed:
			return
		case <-time.After(b.cfg.ReconnectDelay):
		}

		if err := b.Connect(context.Background()); err != nil {
			slog.Warn("RabbitMQ reconnect failed", "error", err)
			continue
		}
		slog.Info("RabbitMQ reconnected")
		return
	}
}

func (b *RabbitBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.pubCh != nil {
			_ = b.pubCh.Close()
		}
		if b.conn != nil {
			err = b.conn.Close()
		}
	})
	return err
}

func (b *RabbitBroker) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *RabbitBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.RLock()
	ch := b.pubCh
	b.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	// a channel must not be used for concurrent publishes
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := b.declare(ch, queue); err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm on %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected message for %s", queue)
	}
	return nil
}

func (b *RabbitBroker) declare(ch *amqp.Channel, queue string) error {
	b.mu.RLock()
	done := b.declared[queue]
	b.mu.RUnlock()
	if done {
		return nil
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	b.mu.Lock()
	if b.declared != nil {
		b.declared[queue] = true
	}
	b.mu.Unlock()
	return nil
}

func (b *RabbitBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b.mu.RLock()
	conn := b.conn
	lost := b.lost
	b.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	for _, q := range []string{queue, DeadLetterQueue(queue)} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		var inflight sync.WaitGroup
		defer close(out)
		defer func() {
			// acks go through this channel, let in-flight handlers finish first
			waitTimeout(&inflight, b.cfg.AckWait)
			if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				slog.Warn("Failed to close consumer channel", "queue", queue, "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-lost:
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				inflight.Add(1)
				select {
				case out <- &rabbitDelivery{d: d, done: inflight.Done}:
				case <-ctx.Done():
					// unacked, the broker redelivers it once the channel closes
					inflight.Done()
					return
				}
			}
		}
	}()

	return out, nil
}

type rabbitDelivery struct {
	d    amqp.Delivery
	done func()
	once sync.Once
}

func (r *rabbitDelivery) Body() []byte      { return r.d.Body }
func (r *rabbitDelivery) Redelivered() bool { return r.d.Redelivered }

func (r *rabbitDelivery) Ack() error {
	defer r.once.Do(r.done)
	return r.d.Ack(false)
}

func (r *rabbitDelivery) Nack(requeue bool) error {
	defer r.once.Do(r.done)
	return r.d.Nack(false, requeue)
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
