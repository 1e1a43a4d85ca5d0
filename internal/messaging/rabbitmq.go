package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
)

// RabbitMQ is a Transport over a single AMQP connection and channel.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms bool
	logger   *zap.Logger

	// amqp channels are not safe for concurrent publishes
	mu sync.Mutex
}

func NewRabbitMQ(cfg config.BrokerConfig, logger *zap.Logger) (*RabbitMQ, error) {
	addr := cfg.RedactedURL()

	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cfg.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to RabbitMQ at %s: %w", ErrTransportUnavailable, addr, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to open channel at %s: %w", ErrTransportUnavailable, addr, err)
	}

	if cfg.Confirms {
		if err := channel.Confirm(false); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	logger.Info("connected to RabbitMQ", zap.String("address", addr), zap.Bool("confirms", cfg.Confirms))

	return &RabbitMQ{
		conn:     conn,
		channel:  channel,
		confirms: cfg.Confirms,
		logger:   logger,
	}, nil
}

// DeclareQueue creates the queue if it doesn't exist
func (r *RabbitMQ) DeclareQueue(_ context.Context, spec QueueSpec) error {
	_, err := r.channel.QueueDeclare(
		spec.Name,       // queue name
		spec.Durable,    // durable
		spec.AutoDelete, // auto-delete
		spec.Exclusive,  // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return declareError(spec.Name, err)
	}

	r.logger.Info("queue declared", zap.String("queue", spec.Name), zap.Bool("durable", spec.Durable))
	return nil
}

// declareError maps a 406 PRECONDITION_FAILED channel close, which the broker
// sends when the queue exists with other properties, to ErrQueueMismatch.
func declareError(queue string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: %s: %v", ErrQueueMismatch, queue, amqpErr.Reason)
	}
	return fmt.Errorf("failed to declare queue: %w", err)
}

// Publish sends a message to a queue through the default exchange. With
// confirms enabled it waits for the broker ack.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, msg Message) error {
	pub := amqp.Publishing{
		ContentType:  msg.ContentType,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		DeliveryMode: amqp.Persistent,
		Body:         msg.Body,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.confirms {
		err := r.channel.PublishWithContext(
			ctx,
			"",    // exchange
			queue, // routing key (queue name)
			false, // mandatory
			false, // immediate
			pub,
		)
		if err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
		return nil
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, pub)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publisher confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected message %s", msg.ID)
	}
	return nil
}

// Consume receives messages from a queue
func (r *RabbitMQ) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error) {
	if !opts.AutoAck && opts.Prefetch > 0 {
		if err := r.channel.Qos(opts.Prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	messages, err := r.channel.Consume(
		queue,            // queue name
		opts.ConsumerTag, // consumer tag
		opts.AutoAck,     // auto-ack
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	r.logger.Info("listening on queue", zap.String("queue", queue), zap.Bool("auto_ack", opts.AutoAck))

	out := make(chan Delivery)
	go func() {
		<-ctx.Done()
		if opts.ConsumerTag == "" {
			return
		}
		// stop the server side so no more messages are pushed to this channel
		if err := r.channel.Cancel(opts.ConsumerTag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Warn("failed to cancel consumer", zap.String("consumer_tag", opts.ConsumerTag), zap.Error(err))
		}
	}()
	go func() {
		defer close(out)
		for msg := range messages {
			var acker Acknowledger
			if !opts.AutoAck {
				acker = amqpAcker{msg: msg}
			}
			d := NewDelivery(msg.Body, msg.MessageId, msg.DeliveryTag, msg.Redelivered, acker)

			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// NotifyClose reports an unexpected connection close.
func (r *RabbitMQ) NotifyClose() <-chan error {
	src := r.conn.NotifyClose(make(chan *amqp.Error, 1))
	out := make(chan error, 1)
	go func() {
		defer close(out)
		if amqpErr, ok := <-src; ok && amqpErr != nil {
			out <- fmt.Errorf("%w: %s", ErrFatalTransport, amqpErr.Error())
		}
	}()
	return out
}

// Close closes the connection
func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type amqpAcker struct {
	msg amqp.Delivery
}

func (a amqpAcker) Ack() error {
	return a.msg.Ack(false)
}

func (a amqpAcker) Nack(requeue bool) error {
	return a.msg.Nack(false, requeue)
}
