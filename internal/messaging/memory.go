package messaging

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broker with the same ack semantics as the real
// ones. Messages live only as long as the process.
type MemoryBroker struct {
	mu         sync.Mutex
	queues     map[string]*memoryQueue
	publishErr map[string]error
	connected  bool
	closed     bool
}

type memoryQueue struct {
	messages []memoryMessage
	signal   chan struct{}
}

type memoryMessage struct {
	body        []byte
	redelivered bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:     map[string]*memoryQueue{},
		publishErr: map[string]error{},
	}
}

func (b *MemoryBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.connected = true
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.connected = false
	return nil
}

func (b *MemoryBroker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// FailPublish makes every publish to queue fail with err until cleared with nil
func (b *MemoryBroker) FailPublish(queue string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.publishErr, queue)
		return
	}
	b.publishErr[queue] = err
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrNotConnected
	}
	if err := b.publishErr[queue]; err != nil {
		return err
	}

	q := b.queue(queue)
	q.messages = append(q.messages, memoryMessage{body: append([]byte(nil), body...)})
	q.notify()
	return nil
}

// Pending returns the bodies waiting on queue, oldest first
func (b *MemoryBroker) Pending(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	out := make([][]byte, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, m.body)
	}
	return out
}

// Drain removes and returns everything waiting on queue
func (b *MemoryBroker) Drain(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	out := make([][]byte, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, m.body)
	}
	q.messages = nil
	return out
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	q := b.queue(queue)
	b.mu.Unlock()

	if prefetch <= 0 {
		prefetch = 1
	}
	out := make(chan Delivery)
	slots := make(chan struct{}, prefetch)

	go func() {
		defer close(out)
		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}

			msg, ok := b.pop(queue)
			for !ok {
				select {
				case <-q.signal:
				case <-ctx.Done():
					return
				}
				msg, ok = b.pop(queue)
			}

			d := &memoryDelivery{broker: b, queue: queue, msg: msg, release: func() { <-slots }}
			select {
			case out <- d:
			case <-ctx.Done():
				b.requeue(queue, msg)
				return
			}
		}
	}()

	return out, nil
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{signal: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) pop(queue string) (memoryMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	if len(q.messages) == 0 {
		return memoryMessage{}, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	if len(q.messages) > 0 {
		q.notify()
	}
	return msg, true
}

func (b *MemoryBroker) requeue(queue string, msg memoryMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg.redelivered = true
	q := b.queue(queue)
	q.messages = append(q.messages, msg)
	q.notify()
}

func (q *memoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

type memoryDelivery struct {
	broker  *MemoryBroker
	queue   string
	msg     memoryMessage
	release func()
	once    sync.Once
}

func (d *memoryDelivery) Body() []byte      { return d.msg.body }
func (d *memoryDelivery) Redelivered() bool { return d.msg.redelivered }

func (d *memoryDelivery) Ack() error {
	d.once.Do(d.release)
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	d.once.Do(func() {
		if requeue {
			d.broker.requeue(d.queue, d.msg)
		}
		d.release()
	})
	return nil
}
