package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryBroker is an in-process Transport with RabbitMQ-like semantics: FIFO
// per queue, auto-ack or manual ack, requeue on nack, and property checks on
// redeclare. It backs tests and local runs without a broker.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	done   chan struct{}
	closed chan error
	state  error // non-nil once closed or disconnected
}

type memQueue struct {
	spec    QueueSpec
	ready   []memMessage
	unacked map[uint64]memMessage
	nextTag uint64
	signal  chan struct{}
}

type memMessage struct {
	msg         Message
	redelivered bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memQueue),
		done:   make(chan struct{}),
		closed: make(chan error, 1),
	}
}

// DeclareQueue creates the queue or checks its properties.
func (b *MemoryBroker) DeclareQueue(_ context.Context, spec QueueSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != nil {
		return b.state
	}

	if q, ok := b.queues[spec.Name]; ok {
		if q.spec != spec {
			return fmt.Errorf("%w: %s declared as %+v, got %+v", ErrQueueMismatch, spec.Name, q.spec, spec)
		}
		return nil
	}

	b.queues[spec.Name] = &memQueue{
		spec:    spec,
		unacked: make(map[uint64]memMessage),
		signal:  make(chan struct{}, 1),
	}
	return nil
}

// Publish appends the message to the tail of the queue.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != nil {
		return fmt.Errorf("failed to publish message: %w", b.state)
	}
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("failed to publish message: queue %q not declared", queue)
	}

	q.ready = append(q.ready, memMessage{msg: msg})
	q.poke()
	return nil
}

// Consume starts handing out messages from the head of the queue.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.state != nil {
		b.mu.Unlock()
		return nil, b.state
	}
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("failed to consume messages: queue %q not declared", queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			d, ok := b.next(q, opts)
			if !ok {
				select {
				case <-q.signal:
					continue
				case <-ctx.Done():
					return
				case <-b.done:
					return
				}
			}

			select {
			case out <- d:
			case <-ctx.Done():
				b.release(q, d, opts)
				return
			case <-b.done:
				return
			}
		}
	}()

	return out, nil
}

// next pops the head of the queue if the prefetch window allows it.
func (b *MemoryBroker) next(q *memQueue, opts ConsumeOptions) (Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != nil || len(q.ready) == 0 {
		return Delivery{}, false
	}
	if !opts.AutoAck && opts.Prefetch > 0 && len(q.unacked) >= opts.Prefetch {
		return Delivery{}, false
	}

	m := q.ready[0]
	q.ready = q.ready[1:]
	q.nextTag++
	tag := q.nextTag

	var acker Acknowledger
	if !opts.AutoAck {
		q.unacked[tag] = m
		acker = &memAcker{broker: b, queue: q, tag: tag}
	}
	return NewDelivery(m.msg.Body, m.msg.ID, tag, m.redelivered, acker), true
}

// release returns a popped but never handed out manual-ack delivery to the
// head of the queue. Auto-acked deliveries are already gone.
func (b *MemoryBroker) release(q *memQueue, d Delivery, opts ConsumeOptions) {
	if opts.AutoAck {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := q.unacked[d.Tag]; ok {
		delete(q.unacked, d.Tag)
		q.ready = append([]memMessage{m}, q.ready...)
		q.poke()
	}
}

// NotifyClose yields an error after Disconnect.
func (b *MemoryBroker) NotifyClose() <-chan error {
	return b.closed
}

// Close shuts the broker down. Pending messages are dropped.
func (b *MemoryBroker) Close() error {
	b.shutdown(ErrTransportClosed, false)
	return nil
}

// Disconnect simulates losing the connection: publishes fail, subscriptions
// end, and NotifyClose fires.
func (b *MemoryBroker) Disconnect(cause error) {
	if cause == nil {
		cause = errors.New("connection reset by peer")
	}
	b.shutdown(fmt.Errorf("%w: %w", ErrFatalTransport, cause), true)
}

func (b *MemoryBroker) shutdown(state error, notify bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != nil {
		return
	}
	b.state = state
	close(b.done)
	if notify {
		b.closed <- state
	}
}

// Len returns the number of ready messages in a queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.ready)
	}
	return 0
}

// Unacked returns the number of delivered but unsettled messages in a queue.
func (b *MemoryBroker) Unacked(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.unacked)
	}
	return 0
}

func (q *memQueue) poke() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

type memAcker struct {
	broker *MemoryBroker
	queue  *memQueue
	tag    uint64
}

func (a *memAcker) settle() (memMessage, error) {
	if a.broker.state != nil {
		return memMessage{}, a.broker.state
	}
	m, ok := a.queue.unacked[a.tag]
	if !ok {
		return memMessage{}, fmt.Errorf("unknown delivery tag %d", a.tag)
	}
	delete(a.queue.unacked, a.tag)
	a.queue.poke()
	return m, nil
}

func (a *memAcker) Ack() error {
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	_, err := a.settle()
	return err
}

func (a *memAcker) Nack(requeue bool) error {
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	m, err := a.settle()
	if err != nil {
		return err
	}
	if requeue {
		m.redelivered = true
		a.queue.ready = append([]memMessage{m}, a.queue.ready...)
	}
	return nil
}
