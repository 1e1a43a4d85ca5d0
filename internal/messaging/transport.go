// Package messaging wraps the queue transport the producer and the consumer
// share. Backends: RabbitMQ (default), Kafka, and an in-process broker.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
)

var (
	// ErrTransportUnavailable is returned when no connection can be established.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrFatalTransport reports a connection lost after startup.
	ErrFatalTransport = errors.New("fatal transport error")
	// ErrQueueMismatch is returned when a queue exists with different properties.
	ErrQueueMismatch = errors.New("queue exists with mismatched properties")
	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrRequeueUnsupported is returned by Nack(true) on backends that cannot
	// put a single message back; the message is treated as dropped.
	ErrRequeueUnsupported = errors.New("requeue not supported")
)

// QueueSpec describes the single queue both sides declare.
type QueueSpec struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// QueueSpecFrom builds the non-exclusive, non-auto-delete spec from config.
func QueueSpecFrom(cfg config.QueueConfig) QueueSpec {
	return QueueSpec{
		Name:    cfg.Name,
		Durable: cfg.Durable(),
	}
}

// Message is one outgoing payload.
type Message struct {
	ID          string
	Body        []byte
	ContentType string
	Timestamp   time.Time
}

// NewMessage wraps body with a fresh message id.
func NewMessage(body []byte) Message {
	return Message{
		ID:          uuid.NewString(),
		Body:        body,
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
	}
}

// ConsumeOptions controls how deliveries are handed out.
type ConsumeOptions struct {
	// AutoAck lets the broker drop the message as soon as it is delivered.
	AutoAck     bool
	Prefetch    int
	ConsumerTag string
}

// Acknowledger settles a delivery with the broker.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one received message plus its acknowledgement handle.
type Delivery struct {
	Body        []byte
	MessageID   string
	Tag         uint64
	Redelivered bool

	acker Acknowledger
}

// NewDelivery builds a delivery. A nil acker means the broker already
// considers the message acknowledged.
func NewDelivery(body []byte, messageID string, tag uint64, redelivered bool, acker Acknowledger) Delivery {
	return Delivery{
		Body:        body,
		MessageID:   messageID,
		Tag:         tag,
		Redelivered: redelivered,
		acker:       acker,
	}
}

// AutoAcked reports whether the broker acknowledged the message on delivery.
func (d Delivery) AutoAcked() bool {
	return d.acker == nil
}

// Ack confirms the delivery. No-op for auto-acknowledged deliveries.
func (d Delivery) Ack() error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Ack()
}

// Nack rejects the delivery. No-op for auto-acknowledged deliveries.
func (d Delivery) Nack(requeue bool) error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Nack(requeue)
}

// Transport is the broker abstraction used by the generator and the processor.
type Transport interface {
	// DeclareQueue creates the queue or asserts that it exists with the same
	// properties. A mismatch returns ErrQueueMismatch.
	DeclareQueue(ctx context.Context, spec QueueSpec) error

	// Publish blocks until the broker accepted the message.
	Publish(ctx context.Context, queue string, msg Message) error

	// Consume starts a subscription. The channel is closed when ctx is
	// canceled or the connection is lost.
	Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error)

	// NotifyClose yields an error when the connection drops unexpectedly.
	NotifyClose() <-chan error

	Close() error
}

// Dial connects to the configured backend.
func Dial(ctx context.Context, cfg config.BrokerConfig, logger *zap.Logger) (Transport, error) {
	switch cfg.Kind {
	case config.BrokerRabbitMQ:
		return NewRabbitMQ(cfg, logger)
	case config.BrokerKafka:
		return NewKafka(ctx, cfg, logger)
	case config.BrokerMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("%w: unknown broker kind %q", ErrTransportUnavailable, cfg.Kind)
	}
}
