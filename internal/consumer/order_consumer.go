// Package consumer receives orders from the queue and runs them through the
// processing pipeline, one delivery at a time.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/pipeline"
)

// OrderHandler does the work for one decoded order. *pipeline.Pipeline
// implements it.
type OrderHandler interface {
	Process(ctx context.Context, order models.Order) error
}

// OrderHandlerFunc adapts a function to OrderHandler.
type OrderHandlerFunc func(ctx context.Context, order models.Order) error

func (f OrderHandlerFunc) Process(ctx context.Context, order models.Order) error {
	return f(ctx, order)
}

// Deduplicator remembers completed message ids. cache.ProcessedSet
// implements it on Redis.
type Deduplicator interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkDone(ctx context.Context, messageID string) error
}

// ConsumerConfig is the part of the configuration the consumer needs.
type ConsumerConfig struct {
	Queue       messaging.QueueSpec
	AckMode     config.AckMode
	Prefetch    int
	ConsumerTag string
}

// ConsumerConfigFrom extracts the consumer settings from cfg.
func ConsumerConfigFrom(cfg *config.Config) ConsumerConfig {
	return ConsumerConfig{
		Queue:       messaging.QueueSpecFrom(cfg.Queue),
		AckMode:     cfg.Consumer.AckMode,
		Prefetch:    cfg.Consumer.Prefetch,
		ConsumerTag: cfg.Consumer.ConsumerTag,
	}
}

type OrderConsumer struct {
	transport messaging.Transport
	cfg       ConsumerConfig
	logger    *zap.Logger
	reporter  *Reporter
	dedup     Deduplicator
}

// Option configures an OrderConsumer.
type Option func(*OrderConsumer)

// WithReporter shares a reporter, and its stats, with the caller.
func WithReporter(r *Reporter) Option {
	return func(c *OrderConsumer) {
		c.reporter = r
	}
}

// WithDeduplicator skips messages already completed. Only used with
// config.AckAfterSuccess.
func WithDeduplicator(d Deduplicator) Option {
	return func(c *OrderConsumer) {
		c.dedup = d
	}
}

func NewOrderConsumer(transport messaging.Transport, cfg ConsumerConfig, logger *zap.Logger, opts ...Option) *OrderConsumer {
	if cfg.AckMode == "" {
		cfg.AckMode = config.AckImmediate
	}
	c := &OrderConsumer{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = NewReporter(logger)
	}
	return c
}

// Stats returns the counters fed by every handled delivery.
func (c *OrderConsumer) Stats() *Stats {
	return c.reporter.Stats()
}

// Run consumes until ctx is canceled, handling one delivery at a time. It
// returns nil after a cancellation once the in-flight delivery is done, and
// an error wrapping messaging.ErrFatalTransport when the connection is lost.
func (c *OrderConsumer) Run(ctx context.Context, handler OrderHandler) error {
	if err := c.transport.DeclareQueue(ctx, c.cfg.Queue); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Both modes settle explicitly: immediate mode acks as the first step of
	// HandleDelivery, so a message never handed to this loop stays queued.
	deliveries, err := c.transport.Consume(ctx, c.cfg.Queue.Name, messaging.ConsumeOptions{
		AutoAck:     false,
		Prefetch:    c.cfg.Prefetch,
		ConsumerTag: c.cfg.ConsumerTag,
	})
	if err != nil {
		return fatal(fmt.Errorf("failed to consume: %w", err))
	}
	closed := c.transport.NotifyClose()

	c.logger.Info("waiting for orders",
		zap.String("queue", c.cfg.Queue.Name),
		zap.String("ack_mode", string(c.cfg.AckMode)),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return nil

		case err, ok := <-closed:
			if ctx.Err() != nil {
				return nil
			}
			if !ok || err == nil {
				err = errors.New("connection closed")
			}
			c.logger.Error("transport lost", zap.Error(err))
			return fatal(err)

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					c.logger.Info("consumer stopped")
					return nil
				}
				c.logger.Error("delivery channel closed")
				return fatal(errors.New("delivery channel closed"))
			}
			c.HandleDelivery(ctx, d, handler)
		}
	}
}

func fatal(err error) error {
	if errors.Is(err, messaging.ErrFatalTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", messaging.ErrFatalTransport, err)
}

// HandleDelivery drives one delivery through its lifecycle and returns the
// terminal result. It never returns early because of ctx.
func (c *OrderConsumer) HandleDelivery(ctx context.Context, d messaging.Delivery, handler OrderHandler) models.Result {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	res := models.Result{
		MessageID:   d.MessageID,
		Redelivered: d.Redelivered,
		Payload:     d.Body,
		Transitions: []models.State{models.StateReceived},
	}

	if c.cfg.AckMode == config.AckAfterSuccess {
		c.reporter.Report(c.delivered(res))
		return c.finish(c.handleAfterSuccess(ctx, d, handler, res), start)
	}

	if err := d.Ack(); err != nil {
		c.logger.Warn("failed to acknowledge delivery", zap.String("message_id", d.MessageID), zap.Error(err))
	}
	res.Transitions = append(res.Transitions, models.StateAcknowledged)
	c.reporter.Report(c.delivered(res))

	order, err := models.Decode(d.Body)
	if err != nil {
		res.Outcome = models.OutcomeMalformed
		res.Err = err
		return c.finish(res, start)
	}
	res.OrderID = order.OrderID
	res.Product = order.Product

	return c.finish(c.process(ctx, order, handler, res), start)
}

func (c *OrderConsumer) handleAfterSuccess(ctx context.Context, d messaging.Delivery, handler OrderHandler, res models.Result) models.Result {
	order, err := models.Decode(d.Body)
	if err != nil {
		c.settle(d, false)
		res.Transitions = append(res.Transitions, models.StateAcknowledged)
		res.Outcome = models.OutcomeMalformed
		res.Err = err
		return res
	}
	res.OrderID = order.OrderID
	res.Product = order.Product

	if c.dedup != nil && d.MessageID != "" {
		seen, err := c.dedup.Seen(ctx, d.MessageID)
		if err != nil {
			c.logger.Warn("dedup lookup failed", zap.String("message_id", d.MessageID), zap.Error(err))
		}
		if seen {
			c.settle(d, true)
			res.Transitions = append(res.Transitions, models.StateAcknowledged)
			res.Outcome = models.OutcomeDuplicate
			return res
		}
	}

	res = c.process(ctx, order, handler, res)

	switch res.Outcome {
	case models.OutcomeProcessingSucceeded:
		if c.dedup != nil && d.MessageID != "" {
			if err := c.dedup.MarkDone(ctx, d.MessageID); err != nil {
				c.logger.Warn("failed to record completed message", zap.String("message_id", d.MessageID), zap.Error(err))
			}
		}
		c.settle(d, true)
		res.Transitions = append(res.Transitions, models.StateAcknowledged)

	case models.OutcomeProcessingFailed:
		// one retry per message: a redelivered failure is dropped
		if !d.Redelivered {
			err := d.Nack(true)
			if err == nil {
				res.Requeued = true
				return res
			}
			if errors.Is(err, messaging.ErrRequeueUnsupported) {
				c.logger.Warn("transport cannot requeue; failed order dropped", zap.String("message_id", d.MessageID))
			} else {
				c.logger.Warn("failed to requeue delivery", zap.String("message_id", d.MessageID), zap.Error(err))
			}
			res.Transitions = append(res.Transitions, models.StateAcknowledged)
			return res
		}
		c.settle(d, false)
		res.Transitions = append(res.Transitions, models.StateAcknowledged)
	}
	return res
}

// settle removes the delivery from the queue, by ack or by reject.
func (c *OrderConsumer) settle(d messaging.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nack(false)
	}
	if err != nil {
		c.logger.Warn("failed to settle delivery",
			zap.String("message_id", d.MessageID),
			zap.Bool("ack", ack),
			zap.Error(err),
		)
	}
}

func (c *OrderConsumer) process(ctx context.Context, order models.Order, handler OrderHandler, res models.Result) models.Result {
	res.Transitions = append(res.Transitions, models.StateProcessing)

	if err := safeProcess(ctx, handler, order); err != nil {
		if !errors.Is(err, pipeline.ErrProcessingFailure) {
			err = fmt.Errorf("%w: %w", pipeline.ErrProcessingFailure, err)
		}
		res.Outcome = models.OutcomeProcessingFailed
		res.Err = err
		var stepErr *pipeline.StepError
		if errors.As(err, &stepErr) {
			res.Step = stepErr.Step
		}
		res.Transitions = append(res.Transitions, models.StateFailed)
		return res
	}

	res.Outcome = models.OutcomeProcessingSucceeded
	res.Total = order.Total()
	res.Transitions = append(res.Transitions, models.StateCompleted)
	return res
}

func safeProcess(ctx context.Context, handler OrderHandler, order models.Order) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", pipeline.ErrProcessingFailure, r)
		}
	}()
	return handler.Process(ctx, order)
}

func (c *OrderConsumer) delivered(res models.Result) models.Result {
	res.Outcome = models.OutcomeDelivered
	res.Transitions = append([]models.State(nil), res.Transitions...)
	return res
}

func (c *OrderConsumer) finish(res models.Result, start time.Time) models.Result {
	res.Duration = time.Since(start)
	c.reporter.Report(res)
	return res
}
