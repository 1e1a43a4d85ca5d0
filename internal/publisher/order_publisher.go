package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

// ErrPublishFailed is wrapped by every PublishError.
var ErrPublishFailed = errors.New("publish failed")

// PublishError stops a batch at the first order the transport refused.
type PublishError struct {
	OrderID   int
	Published int
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed for order %d after %d published: %v", e.OrderID, e.Published, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}

// PublishReport summarises one batch.
type PublishReport struct {
	Requested   int
	Published   int
	LastOrderID int
	Elapsed     time.Duration
}

// GeneratorConfig is the part of the configuration the generator needs.
type GeneratorConfig struct {
	Queue    messaging.QueueSpec
	Interval time.Duration
	// Seed fixes the random source; zero picks a fresh seed.
	Seed uint64
}

// GeneratorConfigFrom extracts the generator settings from cfg.
func GeneratorConfigFrom(cfg *config.Config) GeneratorConfig {
	return GeneratorConfig{
		Queue:    messaging.QueueSpecFrom(cfg.Queue),
		Interval: cfg.Producer.Interval,
		Seed:     cfg.Producer.Seed,
	}
}

// Pacer waits d between two publishes, returning early when ctx is done.
type Pacer func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OrderGenerator creates random orders and publishes them one at a time.
type OrderGenerator struct {
	transport messaging.Transport
	cfg       GeneratorConfig
	logger    *zap.Logger
	pace      Pacer

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an OrderGenerator.
type Option func(*OrderGenerator)

// WithPacer replaces the timer used between publishes.
func WithPacer(p Pacer) Option {
	return func(g *OrderGenerator) {
		g.pace = p
	}
}

// NewOrderGenerator declares the queue and returns a generator bound to it.
func NewOrderGenerator(ctx context.Context, transport messaging.Transport, cfg GeneratorConfig, logger *zap.Logger, opts ...Option) (*OrderGenerator, error) {
	// Declare the queue
	if err := transport.DeclareQueue(ctx, cfg.Queue); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	g := &OrderGenerator{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		pace:      sleepContext,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RandomOrder draws one order with the given id from catalog.
func RandomOrder(r *rand.Rand, id int, catalog models.Catalog) models.Order {
	minCents := int(models.MinUnitPrice * 100)
	maxCents := int(models.MaxUnitPrice * 100)
	cents := minCents + r.IntN(maxCents-minCents+1)

	return models.Order{
		OrderID:   id,
		Product:   catalog[r.IntN(len(catalog))],
		Quantity:  models.MinQuantity + r.IntN(models.MaxQuantity-models.MinQuantity+1),
		UnitPrice: float64(cents) / 100,
	}
}

// GenerateAndPublish publishes count random orders with ids 1..count in
// ascending order, waiting the configured interval between two publishes.
// The first publish error stops the batch and is returned as *PublishError.
// A canceled ctx stops the batch and returns the partial report with ctx's error.
func (g *OrderGenerator) GenerateAndPublish(ctx context.Context, count int, catalog models.Catalog) (PublishReport, error) {
	report := PublishReport{Requested: count}
	if count < 1 {
		return report, fmt.Errorf("order count must be at least 1, got %d", count)
	}
	if err := catalog.Validate(); err != nil {
		return report, err
	}

	start := time.Now()

	for id := 1; id <= count; id++ {
		if id > 1 && g.cfg.Interval > 0 {
			if err := g.pace(ctx, g.cfg.Interval); err != nil {
				report.Elapsed = time.Since(start)
				return report, err
			}
		}

		order := g.next(id, catalog)
		if err := g.publish(ctx, order); err != nil {
			metrics.PublishFailuresTotal.Inc()
			g.logger.Error("failed to publish order",
				zap.Int("order_id", id),
				zap.Int("published", report.Published),
				zap.Error(err),
			)
			report.Elapsed = time.Since(start)
			return report, &PublishError{OrderID: id, Published: report.Published, Err: err}
		}

		report.Published++
		report.LastOrderID = id
		metrics.OrdersPublishedTotal.Inc()
		g.logger.Info("order sent",
			zap.Int("order_id", order.OrderID),
			zap.String("product", order.Product),
			zap.Int("quantity", order.Quantity),
			zap.Float64("unit_price", order.UnitPrice),
		)
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

func (g *OrderGenerator) next(id int, catalog models.Catalog) models.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	return RandomOrder(g.rng, id, catalog)
}

func (g *OrderGenerator) publish(ctx context.Context, order models.Order) error {
	data, err := models.Encode(order)
	if err != nil {
		return err
	}

	start := time.Now()
	err = g.transport.Publish(ctx, g.cfg.Queue.Name, messaging.NewMessage(data))
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	return err
}
